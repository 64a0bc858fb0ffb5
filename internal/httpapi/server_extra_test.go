package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vramd/pkg/types"
)

// blockService streams one part, then holds the channel open until ctx ends.
type blockService struct {
	mockService
	done chan struct{}
}

func (b *blockService) Chat(ctx context.Context, req types.ChatRequest) (<-chan types.StreamPart, error) {
	ch := make(chan types.StreamPart)
	go func() {
		defer close(ch)
		defer close(b.done)
		select {
		case ch <- types.StreamPart{Type: types.PartText, Text: "x"}:
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func TestChatLogsWithZerologInfo(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.New(io.Discard))

	svc := &mockService{parts: []types.StreamPart{{Type: types.PartText, Session: "abc", Text: "hi"}}}
	w := postJSON(NewMux(svc), "/chat?log=info", `{"messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with info logging, got %d", w.Code)
	}
	out := buf.String()
	if !strings.Contains(out, `"event":"chat_end"`) || !strings.Contains(out, `"session":"abc"`) {
		t.Fatalf("log=%s", out)
	}
}

func TestChatDebugLogsParts(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.New(io.Discard))

	svc := &mockService{parts: []types.StreamPart{{Type: types.PartText, Text: "tok"}}}
	w := postJSON(NewMux(svc), "/chat?log=debug", `{"messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(buf.String(), `"event":"chat_part"`) {
		t.Fatalf("log=%s", buf.String())
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	SetCORSOptions(true, []string{"*"}, []string{"GET", "POST", "OPTIONS"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)

	h := NewMux(&mockService{ready: true})
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options=nosniff, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatalf("expected CORS header Access-Control-Allow-Origin to be set, got empty")
	}
}

func TestChatTimeoutEndsStream(t *testing.T) {
	SetChatTimeout(50 * time.Millisecond)
	defer SetChatTimeout(0)

	svc := &blockService{done: make(chan struct{})}
	w := postJSON(NewMux(svc), "/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	select {
	case <-svc.done:
	case <-time.After(time.Second):
		t.Fatal("session was not stopped by the timeout")
	}
	if lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n"); len(lines) != 1 {
		t.Fatalf("lines=%q", lines)
	}
}

func TestChatStopsOnShutdown(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)

	svc := &blockService{done: make(chan struct{})}
	h := NewMux(svc)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		postJSON(h, "/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("handler did not return after base context cancel")
	}
}

func TestSwaggerMountedWhenEnabled(t *testing.T) {
	SetSwaggerEnabled(true)
	defer SetSwaggerEnabled(false)

	rec := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/prepare") {
		t.Fatalf("doc missing /prepare: %.200s", rec.Body.String())
	}
}

func TestSwaggerAbsentByDefault(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}
