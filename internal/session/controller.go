// Package session drives user-visible generations: it routes a request to a
// provider, asks the arbiter for the GPU, budgets the prompt and continues
// truncated output in a bounded number of segments.
package session

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"vramd/internal/backend"
	"vramd/internal/budget"
	"vramd/internal/llm"
	"vramd/pkg/types"
)

// DefaultMaxSegments bounds generation calls per session.
const DefaultMaxSegments = 2

// Arbiter is the part of the resource arbiter a session needs.
type Arbiter interface {
	Prepare(ctx context.Context, kind backend.Kind, model string) error
	UnloadAll(ctx context.Context) int
}

// WindowResolver picks the context window for a request.
type WindowResolver interface {
	Resolve(requested int, provider, model string) int
}

// Provider is a named generation target. Kind is KindNone for cloud providers.
type Provider struct {
	Name      string
	Kind      backend.Kind
	Generator llm.Generator
}

// Local reports whether the provider runs on the shared GPU.
func (p Provider) Local() bool { return p.Kind != backend.KindNone }

// Request is one chat turn to run.
type Request struct {
	Messages      []types.Message
	ProviderHint  string
	ModelHint     string
	ContextWindow int
}

// Config wires a Controller.
type Config struct {
	Arbiter   Arbiter
	Providers []Provider
	Windows   WindowResolver
	Planner   budget.Planner
	Prompts   budget.Prompts
	StartTier budget.Tier
	// Fallbacks names the substitute model per local backend.
	Fallbacks       map[backend.Kind]string
	MaxSegments     int
	ContinuePrompt  string
	DefaultProvider string
	DefaultModel    string
	Logger          zerolog.Logger
}

// Controller runs sessions. It holds no per-session state.
type Controller struct {
	arbiter         Arbiter
	providers       map[string]Provider
	byKind          map[backend.Kind]Provider
	windows         WindowResolver
	planner         budget.Planner
	prompts         budget.Prompts
	startTier       budget.Tier
	fallbacks       map[backend.Kind]string
	maxSegments     int
	continuePrompt  string
	defaultProvider string
	defaultModel    string
	log             zerolog.Logger
}

// New constructs a Controller, applying package defaults.
func New(cfg Config) *Controller {
	c := &Controller{
		arbiter:         cfg.Arbiter,
		providers:       make(map[string]Provider, len(cfg.Providers)),
		byKind:          make(map[backend.Kind]Provider),
		windows:         cfg.Windows,
		planner:         cfg.Planner,
		prompts:         cfg.Prompts,
		startTier:       cfg.StartTier,
		fallbacks:       cfg.Fallbacks,
		maxSegments:     cfg.MaxSegments,
		continuePrompt:  strings.TrimSpace(cfg.ContinuePrompt),
		defaultProvider: cfg.DefaultProvider,
		defaultModel:    cfg.DefaultModel,
		log:             cfg.Logger.With().Str("component", "session").Logger(),
	}
	for _, p := range cfg.Providers {
		if p.Generator == nil {
			continue
		}
		c.providers[normalizeName(p.Name)] = p
		if p.Local() {
			c.byKind[p.Kind] = p
		}
	}
	if c.maxSegments <= 0 {
		c.maxSegments = DefaultMaxSegments
	}
	if c.continuePrompt == "" {
		c.continuePrompt = "Continue your prior response. IMPORTANT: Immediately begin from where you left off without any interruptions. Do not repeat any content, including artifact and action tags."
	}
	if c.windows == nil {
		c.windows = fixedWindow(8192)
	}
	if c.planner.IsContinuation == nil {
		c.planner.IsContinuation = c.isContinuation
	}
	return c
}

// Providers returns the configured provider names, sorted.
func (c *Controller) Providers() []string {
	out := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, p.Name)
	}
	sort.Strings(out)
	return out
}

// provider looks up a provider by name, ignoring case and separators.
func (c *Controller) provider(name string) (Provider, bool) {
	p, ok := c.providers[normalizeName(name)]
	return p, ok
}

func (c *Controller) isContinuation(m types.Message) bool {
	return m.Role == types.RoleUser && strings.TrimSpace(StripMarkers(m.Content)) == c.continuePrompt
}

// Run starts a session and returns its ordered output. The channel closes
// when the session ends. Canceling ctx stops further output but lets an
// in-flight arbiter transition finish.
func (c *Controller) Run(ctx context.Context, req Request) <-chan types.StreamPart {
	out := make(chan types.StreamPart, 16)
	s := newSession(c, req, out)
	go func() {
		defer close(out)
		s.run(ctx)
	}()
	return out
}

func normalizeName(s string) string {
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(s)))
}

type fixedWindow int

func (w fixedWindow) Resolve(requested int, _, _ string) int {
	if requested > 0 {
		return requested
	}
	return int(w)
}
