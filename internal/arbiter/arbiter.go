package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vramd/internal/backend"
)

// Arbiter owns the tracked (backend, model) pair and runs every GPU
// transition inside its queue. One instance lives for the whole process.
type Arbiter struct {
	queue    *Queue
	backends map[backend.Kind]backend.Backend
	order    []backend.Kind

	unloadTimeout time.Duration
	loadTimeout   time.Duration
	warmUpTimeout time.Duration
	pollInterval  time.Duration
	skipResidency bool
	keepAlive     time.Duration
	contextLength func(backend.Kind, string) int

	log       zerolog.Logger
	publisher EventPublisher
	startTime time.Time

	// mu guards the tracked pair. Writes only happen inside the queue.
	mu          sync.RWMutex
	activeKind  backend.Kind
	activeModel string
}

// SetPublisher installs an event publisher. Nil restores the no-op publisher.
func (a *Arbiter) SetPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	a.publisher = p
}

// Backend returns the configured backend of the given kind.
func (a *Arbiter) Backend(kind backend.Kind) (backend.Backend, bool) {
	b, ok := a.backends[kind]
	return b, ok
}

// Kinds returns the configured backend kinds in arbitration order.
func (a *Arbiter) Kinds() []backend.Kind {
	return append([]backend.Kind(nil), a.order...)
}

// Active returns the tracked pair. The value is advisory outside the queue.
func (a *Arbiter) Active() (backend.Kind, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.activeKind, a.activeModel
}

// Locked reports whether a transition is running.
func (a *Arbiter) Locked() bool { return a.queue.Locked() }

// Waiting reports how many operations are queued behind the running one.
func (a *Arbiter) Waiting() int { return a.queue.Waiting() }

func (a *Arbiter) setActive(kind backend.Kind, model string) {
	a.mu.Lock()
	a.activeKind, a.activeModel = kind, model
	a.mu.Unlock()
}

func (a *Arbiter) clearActive() { a.setActive(backend.KindNone, "") }

func (a *Arbiter) isActive(kind backend.Kind, model string) bool {
	k, m := a.Active()
	return k == kind && m != "" && backend.MatchModel(m, model)
}

// ResetTracking forgets the tracked pair without touching any backend, so
// the next Prepare arbitrates from scratch.
func (a *Arbiter) ResetTracking() {
	_ = a.queue.Do(func() error {
		a.clearActive()
		return nil
	})
	a.log.Info().Str("event", "tracking_reset").Msg("tracked residency cleared")
}

// UnloadAll drains every configured backend and clears the tracked pair. It
// is used before cloud generation and is safe when a backend is down. It
// returns the number of models asked to unload.
func (a *Arbiter) UnloadAll(ctx context.Context) int {
	ctx = context.WithoutCancel(ctx)
	queueWaiting.Inc()
	freed, _ := Run(a.queue, func() (int, error) {
		queueWaiting.Dec()
		total := 0
		for _, k := range a.order {
			total += Drain(ctx, a.backends[k], "", a.drainOptions()).Freed
		}
		a.clearActive()
		return total, nil
	})
	a.log.Info().Str("event", "unload_all").Int("freed", freed).Msg("all local backends released")
	a.publisher.Publish(Event{Name: "unload_all", Fields: map[string]any{"freed": freed}})
	return freed
}

func (a *Arbiter) drainOptions() DrainOptions {
	return DrainOptions{
		Timeout:      a.unloadTimeout,
		PollInterval: a.pollInterval,
		Logger:       a.log,
		Publisher:    a.publisher,
	}
}
