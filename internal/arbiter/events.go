package arbiter

// Event is an arbiter lifecycle event: a name, the backend and model it
// concerns, and optional fields.
type Event struct {
	Name    string
	Backend string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives arbiter events. Publish must not block or panic.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
