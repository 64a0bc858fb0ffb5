package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LMStudioConfig configures the LM Studio client.
type LMStudioConfig struct {
	BaseURL        string
	APIKey         string
	ProbeTimeout   time.Duration
	ListTimeout    time.Duration
	ConnectTimeout time.Duration
	HTTPClient     *http.Client
	Logger         zerolog.Logger
}

// LMStudio is the BackendB client for the LM Studio REST API. Loaded
// instances are addressed by instance id, not by model key.
type LMStudio struct {
	base         string
	apiKey       string
	probeTimeout time.Duration
	listTimeout  time.Duration
	httpClient   *http.Client
	log          zerolog.Logger
}

// NewLMStudio constructs an LM Studio client. Zero timeouts use package defaults.
func NewLMStudio(cfg LMStudioConfig) (*LMStudio, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("lmstudio: empty base url")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		connect := cfg.ConnectTimeout
		if connect <= 0 {
			connect = 2 * time.Second
		}
		tr := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connect,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        16,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		// Timeout stays 0: every request carries its own context deadline.
		hc = &http.Client{Transport: tr}
	}
	l := &LMStudio{
		base:         base,
		apiKey:       cfg.APIKey,
		probeTimeout: cfg.ProbeTimeout,
		listTimeout:  cfg.ListTimeout,
		httpClient:   hc,
		log:          cfg.Logger.With().Str("backend", string(KindLMStudio)).Logger(),
	}
	if l.probeTimeout <= 0 {
		l.probeTimeout = DefaultProbeTimeout
	}
	if l.listTimeout <= 0 {
		l.listTimeout = DefaultListTimeout
	}
	return l, nil
}

func (l *LMStudio) Kind() Kind      { return KindLMStudio }
func (l *LMStudio) BaseURL() string { return l.base }

// lmsModel is the boundary shape of one /api/v1/models entry. Pointer fields
// distinguish "absent" from zero so defaults can be applied explicitly.
type lmsModel struct {
	Key              *string       `json:"key"`
	Type             *string       `json:"type"`
	MaxContextLength *int          `json:"max_context_length"`
	SizeBytes        *int64        `json:"size_bytes"`
	LoadedInstances  []lmsInstance `json:"loaded_instances"`
}

type lmsInstance struct {
	ID     *string `json:"id"`
	Config *struct {
		ContextLength *int `json:"context_length"`
	} `json:"config"`
}

type lmsModelsResponse struct {
	Models []lmsModel `json:"models"`
}

type lmsLoadRequest struct {
	Model          string `json:"model"`
	ContextLength  int    `json:"context_length,omitempty"`
	FlashAttention *bool  `json:"flash_attention,omitempty"`
	EchoLoadConfig bool   `json:"echo_load_config,omitempty"`
}

type lmsLoadResponse struct {
	InstanceID string          `json:"instance_id"`
	Status     string          `json:"status"`
	Error      json.RawMessage `json:"error"`
}

type lmsUnloadRequest struct {
	InstanceID string `json:"instance_id"`
}

func (l *LMStudio) Reachable(ctx context.Context) bool {
	ctx, cancel := withTimeout(ctx, l.probeTimeout)
	defer cancel()
	resp, err := l.do(ctx, http.MethodGet, "/api/v1/models", nil)
	if err != nil {
		l.log.Debug().Str("event", "probe_unreachable").Err(err).Msg("lmstudio probe failed")
		return false
	}
	drain(resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (l *LMStudio) models(ctx context.Context) ([]lmsModel, error) {
	ctx, cancel := withTimeout(ctx, l.listTimeout)
	defer cancel()
	resp, err := l.do(ctx, http.MethodGet, "/api/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("lmstudio: list models: %w", err)
	}
	defer drain(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lmstudio: list models: %s: %s", resp.Status, errorMessage(resp.Body))
	}
	var body lmsModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("lmstudio: decode models: %w", err)
	}
	out := body.Models[:0]
	for _, m := range body.Models {
		if m.Key == nil || strings.TrimSpace(*m.Key) == "" {
			l.log.Debug().Str("event", "invalid_model_entry").Msg("skipping model without key")
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (l *LMStudio) ListResident(ctx context.Context) ([]ResidentModel, error) {
	models, err := l.models(ctx)
	if err != nil {
		return nil, err
	}
	var out []ResidentModel
	for _, m := range models {
		for _, inst := range m.LoadedInstances {
			r := ResidentModel{ID: *m.Key, InstanceID: *m.Key}
			if inst.ID != nil && *inst.ID != "" {
				r.InstanceID = *inst.ID
			}
			if inst.Config != nil && inst.Config.ContextLength != nil {
				r.ContextLength = *inst.Config.ContextLength
			}
			if m.SizeBytes != nil {
				r.SizeBytes = *m.SizeBytes
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *LMStudio) ListAvailable(ctx context.Context) ([]ModelDescriptor, error) {
	models, err := l.models(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ModelDescriptor, 0, len(models))
	for _, m := range models {
		d := ModelDescriptor{ID: *m.Key, Type: "llm", Loaded: len(m.LoadedInstances) > 0}
		if m.Type != nil && *m.Type != "" {
			d.Type = *m.Type
		}
		if m.MaxContextLength != nil {
			d.MaxContextLength = *m.MaxContextLength
		}
		out = append(out, d)
	}
	return out, nil
}

func (l *LMStudio) Unload(ctx context.Context, m ResidentModel) error {
	ctx, cancel := withTimeout(ctx, l.listTimeout)
	defer cancel()
	id := m.InstanceID
	if id == "" {
		id = m.ID
	}
	body, _ := json.Marshal(lmsUnloadRequest{InstanceID: id})
	resp, err := l.do(ctx, http.MethodPost, "/api/v1/models/unload", body)
	if err != nil {
		return fmt.Errorf("lmstudio: unload %s: %w", id, err)
	}
	defer drain(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("lmstudio: unload %s: %s: %s", id, resp.Status, errorMessage(resp.Body))
	}
	return nil
}

// Load requests an explicit load. LM Studio answers once the instance is up
// or with an error payload; the caller bounds the wait through ctx.
func (l *LMStudio) Load(ctx context.Context, model string, opts LoadOptions) error {
	flash := true
	body, _ := json.Marshal(lmsLoadRequest{
		Model:          model,
		ContextLength:  opts.ContextLength,
		FlashAttention: &flash,
		EchoLoadConfig: true,
	})
	resp, err := l.do(ctx, http.MethodPost, "/api/v1/models/load", body)
	if err != nil {
		return fmt.Errorf("lmstudio: load %s: %w", model, err)
	}
	defer drain(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return modelMissingError{kind: KindLMStudio, model: model}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("lmstudio: load %s: %s: %s", model, resp.Status, errorMessage(resp.Body))
	}
	var lr lmsLoadResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("lmstudio: decode load response: %w", err)
	}
	if msg := rawErrorText(lr.Error); msg != "" {
		return fmt.Errorf("lmstudio: load %s: %s", model, msg)
	}
	l.log.Debug().Str("event", "load_ack").Str("model", model).Str("instance_id", lr.InstanceID).Str("status", lr.Status).Msg("load acknowledged")
	return nil
}

func (l *LMStudio) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, l.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}
	return l.httpClient.Do(req)
}

// errorMessage extracts the error text from a failed response body. LM Studio
// reports either {"error":"text"} or {"error":{"message":"text"}}.
func errorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(b, &env); err == nil {
		if msg := rawErrorText(env.Error); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(b))
}

func rawErrorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	_ = rc.Close()
}
