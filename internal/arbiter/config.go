package arbiter

import (
	"time"

	"github.com/rs/zerolog"

	"vramd/internal/backend"
)

// Defaults applied when the corresponding Config fields are unset.
const (
	DefaultUnloadTimeout = 15 * time.Second
	DefaultLoadTimeout   = 30 * time.Second
	DefaultWarmUpTimeout = 90 * time.Second
	DefaultPollInterval  = 500 * time.Millisecond
)

// Config holds the Arbiter tunables.
type Config struct {
	// Backends lists the local servers in arbitration order. At most one per kind.
	Backends []backend.Backend

	UnloadTimeout time.Duration // unload confirmation window
	LoadTimeout   time.Duration // residency confirmation after a load
	WarmUpTimeout time.Duration // bound on the load or warm-up call itself
	PollInterval  time.Duration

	// SkipResidencyCheck trusts tracked state on the fast path without
	// asking the backend.
	SkipResidencyCheck bool
	// KeepAlive is forwarded to backends that take a residency duration.
	KeepAlive time.Duration
	// ContextLength chooses the context length requested at load time. Nil
	// or a zero result keeps the backend default.
	ContextLength func(kind backend.Kind, model string) int

	Logger    zerolog.Logger
	Publisher EventPublisher
}

// New constructs an Arbiter from cfg, applying package defaults.
func New(cfg Config) *Arbiter {
	a := &Arbiter{
		queue:         NewQueue(),
		backends:      make(map[backend.Kind]backend.Backend, len(cfg.Backends)),
		unloadTimeout: cfg.UnloadTimeout,
		loadTimeout:   cfg.LoadTimeout,
		warmUpTimeout: cfg.WarmUpTimeout,
		pollInterval:  cfg.PollInterval,
		skipResidency: cfg.SkipResidencyCheck,
		keepAlive:     cfg.KeepAlive,
		contextLength: cfg.ContextLength,
		log:           cfg.Logger.With().Str("component", "arbiter").Logger(),
		publisher:     cfg.Publisher,
		startTime:     time.Now(),
	}
	for _, b := range cfg.Backends {
		if b == nil {
			continue
		}
		if _, dup := a.backends[b.Kind()]; dup {
			continue
		}
		a.backends[b.Kind()] = b
		a.order = append(a.order, b.Kind())
	}
	if a.unloadTimeout <= 0 {
		a.unloadTimeout = DefaultUnloadTimeout
	}
	if a.loadTimeout <= 0 {
		a.loadTimeout = DefaultLoadTimeout
	}
	if a.warmUpTimeout <= 0 {
		a.warmUpTimeout = DefaultWarmUpTimeout
	}
	if a.pollInterval <= 0 {
		a.pollInterval = DefaultPollInterval
	}
	if a.publisher == nil {
		a.publisher = noopPublisher{}
	}
	return a
}
