// Package backend talks to the local inference servers that compete for the
// GPU. Every call here is read-only or a single fire-and-forget mutation;
// sequencing and confirmation belong to the arbiter.
package backend

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Kind identifies a local backend family.
type Kind string

const (
	KindNone     Kind = ""
	KindOllama   Kind = "ollama"
	KindLMStudio Kind = "lmstudio"
)

// Kinds lists the local backend kinds in arbitration order.
var Kinds = []Kind{KindOllama, KindLMStudio}

func (k Kind) String() string {
	if k == KindNone {
		return "none"
	}
	return string(k)
}

// DisplayName is the human-facing server name used in remediation messages.
func (k Kind) DisplayName() string {
	switch k {
	case KindOllama:
		return "Ollama"
	case KindLMStudio:
		return "LM Studio"
	}
	return k.String()
}

// ParseKind maps a provider name to a local backend kind. Cloud providers and
// unknown names report false.
func ParseKind(name string) (Kind, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(n)
	switch n {
	case "ollama":
		return KindOllama, true
	case "lmstudio":
		return KindLMStudio, true
	}
	return KindNone, false
}

// Default probe and listing timeouts.
const (
	DefaultProbeTimeout = 3 * time.Second
	DefaultListTimeout  = 5 * time.Second
)

// ResidentModel is a model currently holding GPU memory on a backend.
type ResidentModel struct {
	ID            string
	InstanceID    string
	SizeBytes     int64
	SizeVRAMBytes int64
	Digest        string
	ContextLength int
}

// ModelDescriptor is an installed model a backend can load.
type ModelDescriptor struct {
	ID               string
	Type             string
	MaxContextLength int
	Loaded           bool
}

// LoadOptions tune a load or warm-up request.
type LoadOptions struct {
	// ContextLength requested for the loaded instance; 0 keeps the backend default.
	ContextLength int
	// KeepAlive is how long the backend should keep the model resident.
	KeepAlive time.Duration
}

// Backend is the probe and mutation surface of one local inference server.
type Backend interface {
	Kind() Kind
	BaseURL() string
	// Reachable reports whether the server answers its status call. Any
	// network failure or non-success response counts as unreachable.
	Reachable(ctx context.Context) bool
	// ListResident returns the models currently loaded.
	ListResident(ctx context.Context) ([]ResidentModel, error)
	// ListAvailable returns the installed model inventory.
	ListAvailable(ctx context.Context) ([]ModelDescriptor, error)
	// Unload asks the backend to release one resident model. It does not
	// wait for the memory to be freed.
	Unload(ctx context.Context, m ResidentModel) error
	// Load asks the backend to make a model resident.
	Load(ctx context.Context, model string, opts LoadOptions) error
}

// MatchModel reports whether two identifiers name the same model. A missing
// tag is treated as ":latest".
func MatchModel(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if strings.EqualFold(a, b) {
		return true
	}
	return strings.EqualFold(withTag(a), withTag(b))
}

func withTag(id string) string {
	if id == "" || strings.Contains(id, ":") {
		return id
	}
	return id + ":latest"
}

// ContainsModel reports whether id is among the resident models.
func ContainsModel(resident []ResidentModel, id string) bool {
	for _, m := range resident {
		if MatchModel(m.ID, id) {
			return true
		}
	}
	return false
}

// modelMissingError signals the backend rejected a model id as unknown.
type modelMissingError struct {
	kind  Kind
	model string
}

func (e modelMissingError) Error() string {
	return e.kind.String() + ": model not installed: " + e.model
}

// IsModelMissing reports whether err says the backend does not know the model.
func IsModelMissing(err error) bool {
	var e modelMissingError
	return errors.As(err, &e)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
