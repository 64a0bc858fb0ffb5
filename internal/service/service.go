// Package service is the process-wide container: it builds the backends,
// the arbiter and the session controller once from configuration and
// exposes them to the HTTP layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"vramd/internal/arbiter"
	"vramd/internal/backend"
	"vramd/internal/budget"
	"vramd/internal/config"
	"vramd/internal/llm"
	"vramd/internal/registry"
	"vramd/internal/session"
	"vramd/pkg/types"
)

// Provider display names, as used in message markers.
const (
	ProviderOllama    = "Ollama"
	ProviderLMStudio  = "LMStudio"
	ProviderOpenAI    = "OpenAI"
	ProviderAnthropic = "Anthropic"
)

// Service wires the core components. Create it once at startup.
type Service struct {
	arb     *arbiter.Arbiter
	ctrl    *session.Controller
	catalog *registry.Catalog
	log     zerolog.Logger
	ready   atomic.Bool
}

// Options carries optional collaborators, mostly for tests.
type Options struct {
	Logger    zerolog.Logger
	Publisher arbiter.EventPublisher
	// HTTPClient is used for the local backends when set.
	HTTPClient *http.Client
}

// New builds the container from cfg. cfg must already have defaults applied.
func New(cfg config.Config, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	prompts, err := cfg.ResolvePrompts()
	if err != nil {
		return nil, err
	}
	tier, err := budget.ParseTier(cfg.Session.StartTier)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	catalog := registry.New(cfg.Models, cfg.Budget.DefaultContextWindow)

	var (
		backends  []backend.Backend
		providers []session.Provider
		fallbacks = map[backend.Kind]string{}
	)
	if !cfg.Ollama.Disabled {
		o, err := backend.NewOllama(backend.OllamaConfig{
			BaseURL:      cfg.Ollama.BaseURL,
			ProbeTimeout: cfg.Timeouts.Probe.Duration,
			ListTimeout:  cfg.Timeouts.List.Duration,
			HTTPClient:   opts.HTTPClient,
			Logger:       log,
		})
		if err != nil {
			return nil, err
		}
		backends = append(backends, o)
		numCtx := func(model string) int { return catalog.ContextWindow(ProviderOllama, model) }
		providers = append(providers, session.Provider{
			Name:      ProviderOllama,
			Kind:      backend.KindOllama,
			Generator: llm.NewOllama(o.API(), cfg.KeepAlive.Duration, numCtx),
		})
		fallbacks[backend.KindOllama] = cfg.Ollama.FallbackModel
	}
	if !cfg.LMStudio.Disabled {
		l, err := backend.NewLMStudio(backend.LMStudioConfig{
			BaseURL:      cfg.LMStudio.BaseURL,
			APIKey:       cfg.LMStudio.APIKey,
			ProbeTimeout: cfg.Timeouts.Probe.Duration,
			ListTimeout:  cfg.Timeouts.List.Duration,
			HTTPClient:   opts.HTTPClient,
			Logger:       log,
		})
		if err != nil {
			return nil, err
		}
		backends = append(backends, l)
		key := cfg.LMStudio.APIKey
		if key == "" {
			key = "lm-studio"
		}
		providers = append(providers, session.Provider{
			Name:      ProviderLMStudio,
			Kind:      backend.KindLMStudio,
			Generator: llm.NewOpenAI(l.BaseURL()+"/v1", key),
		})
		fallbacks[backend.KindLMStudio] = cfg.LMStudio.FallbackModel
	}
	if cfg.OpenAI.APIKey != "" {
		providers = append(providers, session.Provider{
			Name:      ProviderOpenAI,
			Generator: llm.NewOpenAI(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey),
		})
	}
	if cfg.Anthropic.APIKey != "" {
		providers = append(providers, session.Provider{
			Name:      ProviderAnthropic,
			Generator: llm.NewAnthropic(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL),
		})
	}

	arb := arbiter.New(arbiter.Config{
		Backends:           backends,
		UnloadTimeout:      cfg.Timeouts.Unload.Duration,
		LoadTimeout:        cfg.Timeouts.Load.Duration,
		WarmUpTimeout:      cfg.Timeouts.WarmUp.Duration,
		PollInterval:       cfg.Timeouts.Poll.Duration,
		SkipResidencyCheck: cfg.SkipResidencyCheck,
		KeepAlive:          cfg.KeepAlive.Duration,
		ContextLength: func(kind backend.Kind, model string) int {
			return catalog.ContextWindow(providerName(kind), model)
		},
		Logger:    log,
		Publisher: opts.Publisher,
	})

	ctrl := session.New(session.Config{
		Arbiter:   arb,
		Providers: providers,
		Windows:   catalog,
		Planner: budget.Planner{
			Estimator: budget.Estimator{WordFactor: cfg.Budget.WordFactor},
			Limits: budget.Limits{
				SafetyMargin: cfg.Budget.SafetyMargin,
				OutputFloor:  cfg.Budget.OutputFloor,
				MaxOutput:    cfg.Budget.MaxOutput,
			},
		},
		Prompts:         budget.Prompts{Full: prompts.Full, Reduced: prompts.Reduced, Minimal: prompts.Minimal},
		StartTier:       tier,
		Fallbacks:       fallbacks,
		MaxSegments:     cfg.Session.MaxSegments,
		ContinuePrompt:  cfg.Session.ContinuePrompt,
		DefaultProvider: cfg.Session.DefaultProvider,
		DefaultModel:    cfg.Session.DefaultModel,
		Logger:          log,
	})

	s := &Service{arb: arb, ctrl: ctrl, catalog: catalog, log: log}
	s.ready.Store(true)
	log.Info().Str("event", "service_ready").Int("backends", len(backends)).Strs("providers", ctrl.Providers()).Msg("service initialized")
	return s, nil
}

func providerName(kind backend.Kind) string {
	switch kind {
	case backend.KindOllama:
		return ProviderOllama
	case backend.KindLMStudio:
		return ProviderLMStudio
	}
	return kind.String()
}

// Arbiter exposes the arbiter, e.g. for administrative tooling.
func (s *Service) Arbiter() *arbiter.Arbiter { return s.arb }

// Ready reports whether the service accepts work.
func (s *Service) Ready() bool { return s.ready.Load() }

// Close stops accepting work. Backends are left as they are.
func (s *Service) Close() { s.ready.Store(false) }

// Prepare activates model on the named local provider.
func (s *Service) Prepare(ctx context.Context, provider, model string) (types.PrepareResponse, error) {
	kind, ok := backend.ParseKind(provider)
	if !ok {
		return types.PrepareResponse{}, badRequest(fmt.Sprintf("provider %q is not a local backend", provider))
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return types.PrepareResponse{}, badRequest("model is required")
	}
	if err := s.arb.Prepare(ctx, kind, model); err != nil {
		return types.PrepareResponse{}, err
	}
	return types.PrepareResponse{Provider: kind.String(), Model: model}, nil
}

// UnloadAll releases every local backend.
func (s *Service) UnloadAll(ctx context.Context) types.UnloadResponse {
	return types.UnloadResponse{Freed: s.arb.UnloadAll(ctx)}
}

// Status reports arbiter state and backend residency.
func (s *Service) Status(ctx context.Context) types.StatusResponse {
	return s.arb.Status(ctx)
}

// Models returns the model catalogue.
func (s *Service) Models() []types.ModelEntry { return s.catalog.Entries() }

// Chat validates req and starts a session.
func (s *Service) Chat(ctx context.Context, req types.ChatRequest) (<-chan types.StreamPart, error) {
	if len(req.Messages) == 0 {
		return nil, badRequest("messages are required")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case types.RoleUser, types.RoleAssistant, types.RoleSystem:
		default:
			return nil, badRequest(fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role))
		}
	}
	if req.ContextWindow < 0 {
		return nil, badRequest("context_window must not be negative")
	}
	return s.ctrl.Run(ctx, session.Request{
		Messages:      req.Messages,
		ProviderHint:  req.Provider,
		ModelHint:     req.Model,
		ContextWindow: req.ContextWindow,
	}), nil
}

// badRequestError maps to 400.
type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }
func (badRequestError) StatusCode() int { return http.StatusBadRequest }

func badRequest(msg string) error { return badRequestError{msg: msg} }

// IsBadRequest reports whether err was caused by invalid input.
func IsBadRequest(err error) bool {
	var e badRequestError
	return errors.As(err, &e)
}
