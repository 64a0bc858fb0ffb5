package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vramd/internal/config"
	"vramd/internal/httpapi"
	"vramd/internal/service"
	"vramd/pkg/types"
)

// chatReply is one scripted /api/chat answer.
type chatReply struct {
	text   string
	reason string
}

// fakeOllama models residency the way Ollama reports it: a warm-up generate
// makes a model resident, a prompt-less generate evicts it.
type fakeOllama struct {
	mu        sync.Mutex
	installed []string
	running   map[string]bool
	script    []chatReply
	chats     []map[string]any
	loads     int
	unloads   int
}

func newFakeOllama(t *testing.T, installed ...string) (*fakeOllama, *httptest.Server) {
	t.Helper()
	f := &fakeOllama{installed: installed, running: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Ollama is running"))
	})
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		models := []map[string]any{}
		for m := range f.running {
			models = append(models, map[string]any{"name": m, "model": m, "size": 4 << 30, "size_vram": 4 << 30})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		models := []map[string]any{}
		for _, m := range f.installed {
			models = append(models, map[string]any{"name": m, "model": m})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.isInstalled(body.Model) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": fmt.Sprintf("model '%s' not found", body.Model)})
			return
		}
		if body.Prompt == "" {
			f.unloads++
			delete(f.running, body.Model)
		} else {
			f.loads++
			f.running[body.Model] = true
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": body.Model, "done": true, "done_reason": "stop"})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.chats = append(f.chats, body)
		reply := chatReply{text: "ok", reason: "stop"}
		if len(f.script) > 0 {
			reply, f.script = f.script[0], f.script[1:]
		}
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		_ = enc.Encode(map[string]any{"model": body["model"], "message": map[string]any{"role": "assistant", "content": reply.text}, "done": false})
		_ = enc.Encode(map[string]any{"model": body["model"], "message": map[string]any{"role": "assistant", "content": ""}, "done": true,
			"done_reason": reply.reason, "prompt_eval_count": 10, "eval_count": 5})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return f, ts
}

func (f *fakeOllama) isInstalled(model string) bool {
	for _, m := range f.installed {
		if m == model {
			return true
		}
	}
	return false
}

func (f *fakeOllama) resident() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.running {
		out = append(out, m)
	}
	return out
}

// fakeLMStudio serves the native model API and an OpenAI-compatible chat endpoint.
type fakeLMStudio struct {
	mu     sync.Mutex
	loaded map[string]bool
	loads  int
}

func newFakeLMStudio(t *testing.T) (*fakeLMStudio, *httptest.Server) {
	t.Helper()
	f := &fakeLMStudio{loaded: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var instances []map[string]any
		if f.loaded["qwen3-8b"] {
			instances = append(instances, map[string]any{"id": "qwen3-8b", "config": map[string]any{"context_length": 8192}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]any{
			{"type": "llm", "key": "qwen3-8b", "max_context_length": 32768, "loaded_instances": instances},
		}})
	})
	mux.HandleFunc("/api/v1/models/load", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if body.Model != "qwen3-8b" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
			return
		}
		f.loads++
		f.loaded[body.Model] = true
		_ = json.NewEncoder(w).Encode(map[string]any{"type": "llm", "instance_id": body.Model, "status": "loaded"})
	})
	mux.HandleFunc("/api/v1/models/unload", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			InstanceID string `json:"instance_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.loaded, body.InstanceID)
		_ = json.NewEncoder(w).Encode(map[string]any{"instance_id": body.InstanceID})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunk := map[string]any{"id": "c1", "object": "chat.completion.chunk", "created": 1, "model": "qwen3-8b",
			"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": "from lm studio"}, "finish_reason": "stop"}}}
		b, _ := json.Marshal(chunk)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return f, ts
}

func (f *fakeLMStudio) isLoaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loaded) > 0
}

// deadURL returns the address of a server that is no longer listening.
func deadURL() string {
	ts := httptest.NewServer(http.NotFoundHandler())
	u := ts.URL
	ts.Close()
	return u
}

func testConfig(ollamaURL, lmstudioURL string) config.Config {
	var cfg config.Config
	cfg.Ollama.BaseURL = ollamaURL
	cfg.Ollama.FallbackModel = "llama3.2:3b"
	cfg.LMStudio.BaseURL = lmstudioURL
	cfg.LMStudio.FallbackModel = "qwen3-8b"
	cfg.Timeouts.Probe = config.Duration{Duration: 300 * time.Millisecond}
	cfg.Timeouts.Unload = config.Duration{Duration: time.Second}
	cfg.Timeouts.Load = config.Duration{Duration: time.Second}
	cfg.Timeouts.WarmUp = config.Duration{Duration: 2 * time.Second}
	cfg.Timeouts.Poll = config.Duration{Duration: 5 * time.Millisecond}
	cfg.Models = []types.ModelEntry{{Provider: "Ollama", Model: "llama3.1:8b", ContextWindow: 16384}}
	cfg.ApplyDefaults()
	return cfg
}

func newServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	svc, err := service.New(cfg, service.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	httpapi.SetLogger(zerolog.Nop())
	srv := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(srv.Close)
	return srv
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// streamParts decodes an NDJSON chat body.
func streamParts(t *testing.T, body []byte) []types.StreamPart {
	t.Helper()
	var parts []types.StreamPart
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var p types.StreamPart
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			t.Fatalf("bad ndjson line %q: %v", line, err)
		}
		parts = append(parts, p)
	}
	return parts
}

func textOf(parts []types.StreamPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == types.PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func partsOfType(parts []types.StreamPart, typ string) []types.StreamPart {
	var out []types.StreamPart
	for _, p := range parts {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}
