package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

// OllamaConfig configures the Ollama client.
type OllamaConfig struct {
	BaseURL      string
	ProbeTimeout time.Duration
	ListTimeout  time.Duration
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// Ollama is the BackendA client. Resident models come from /api/ps, the
// inventory from /api/tags, and both unload and warm-up go through
// /api/generate with an explicit keep-alive.
type Ollama struct {
	base         string
	probeTimeout time.Duration
	listTimeout  time.Duration
	client       *api.Client
	log          zerolog.Logger
}

// NewOllama constructs an Ollama client. Zero timeouts use package defaults.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("ollama: empty base url")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("ollama: parse base url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	o := &Ollama{
		base:         base,
		probeTimeout: cfg.ProbeTimeout,
		listTimeout:  cfg.ListTimeout,
		client:       api.NewClient(u, hc),
		log:          cfg.Logger.With().Str("backend", string(KindOllama)).Logger(),
	}
	if o.probeTimeout <= 0 {
		o.probeTimeout = DefaultProbeTimeout
	}
	if o.listTimeout <= 0 {
		o.listTimeout = DefaultListTimeout
	}
	return o, nil
}

func (o *Ollama) Kind() Kind      { return KindOllama }
func (o *Ollama) BaseURL() string { return o.base }

// API exposes the underlying client for generation.
func (o *Ollama) API() *api.Client { return o.client }

func (o *Ollama) Reachable(ctx context.Context) bool {
	ctx, cancel := withTimeout(ctx, o.probeTimeout)
	defer cancel()
	if err := o.client.Heartbeat(ctx); err != nil {
		o.log.Debug().Str("event", "probe_unreachable").Err(err).Msg("ollama probe failed")
		return false
	}
	return true
}

func (o *Ollama) ListResident(ctx context.Context) ([]ResidentModel, error) {
	ctx, cancel := withTimeout(ctx, o.listTimeout)
	defer cancel()
	resp, err := o.client.ListRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama: list running: %w", err)
	}
	out := make([]ResidentModel, 0, len(resp.Models))
	for _, m := range resp.Models {
		id := m.Name
		if id == "" {
			id = m.Model
		}
		if id == "" {
			// Entries without any identifier cannot be unloaded; skip them.
			continue
		}
		out = append(out, ResidentModel{
			ID:            id,
			SizeBytes:     m.Size,
			SizeVRAMBytes: m.SizeVRAM,
			Digest:        m.Digest,
		})
	}
	return out, nil
}

func (o *Ollama) ListAvailable(ctx context.Context) ([]ModelDescriptor, error) {
	ctx, cancel := withTimeout(ctx, o.listTimeout)
	defer cancel()
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama: list models: %w", err)
	}
	out := make([]ModelDescriptor, 0, len(resp.Models))
	for _, m := range resp.Models {
		id := m.Name
		if id == "" {
			id = m.Model
		}
		if id == "" {
			continue
		}
		out = append(out, ModelDescriptor{ID: id, Type: "llm"})
	}
	return out, nil
}

// Unload sends a zero keep-alive generate request, which makes Ollama evict
// the model once the request is acknowledged.
func (o *Ollama) Unload(ctx context.Context, m ResidentModel) error {
	ctx, cancel := withTimeout(ctx, o.listTimeout)
	defer cancel()
	stream := false
	req := &api.GenerateRequest{
		Model:     m.ID,
		Stream:    &stream,
		KeepAlive: &api.Duration{Duration: 0},
	}
	if err := o.client.Generate(ctx, req, func(api.GenerateResponse) error { return nil }); err != nil {
		return o.classify(m.ID, err)
	}
	return nil
}

// Load issues a one-token warm-up generation so the model becomes resident.
// The caller bounds the warm-up latency through ctx.
func (o *Ollama) Load(ctx context.Context, model string, opts LoadOptions) error {
	stream := false
	options := map[string]any{"num_predict": 1}
	if opts.ContextLength > 0 {
		options["num_ctx"] = opts.ContextLength
	}
	req := &api.GenerateRequest{
		Model:   model,
		Prompt:  "hi",
		Stream:  &stream,
		Options: options,
	}
	if opts.KeepAlive > 0 {
		req.KeepAlive = &api.Duration{Duration: opts.KeepAlive}
	}
	if err := o.client.Generate(ctx, req, func(api.GenerateResponse) error { return nil }); err != nil {
		return o.classify(model, err)
	}
	return nil
}

func (o *Ollama) classify(model string, err error) error {
	var se api.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return modelMissingError{kind: KindOllama, model: model}
	}
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return modelMissingError{kind: KindOllama, model: model}
	}
	return fmt.Errorf("ollama: %s: %w", model, err)
}
