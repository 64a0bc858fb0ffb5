package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"vramd/internal/arbiter"
	"vramd/internal/config"
	"vramd/pkg/types"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestService(t *testing.T, mutate func(*config.Config)) *Service {
	t.Helper()
	var cfg config.Config
	cfg.Ollama.BaseURL = "http://127.0.0.1:1"
	cfg.LMStudio.BaseURL = "http://127.0.0.1:2"
	cfg.Timeouts.Probe = config.Duration{Duration: 100 * time.Millisecond}
	if mutate != nil {
		mutate(&cfg)
	}
	cfg.ApplyDefaults()
	s, err := New(cfg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return s
}

func TestNew_RegistersProviders(t *testing.T) {
	s := newTestService(t, func(c *config.Config) {
		c.OpenAI.APIKey = "sk-test"
		c.Anthropic.APIKey = "ak-test"
	})
	require.ElementsMatch(t, []string{ProviderOllama, ProviderLMStudio, ProviderOpenAI, ProviderAnthropic}, s.ctrl.Providers())
	require.ElementsMatch(t, []string{"ollama", "lmstudio"}, kindNames(s.Arbiter()))
	require.True(t, s.Ready())
	s.Close()
	require.False(t, s.Ready())
}

func TestNew_DisabledBackendsAreSkipped(t *testing.T) {
	s := newTestService(t, func(c *config.Config) {
		c.LMStudio.Disabled = true
	})
	require.Equal(t, []string{ProviderOllama}, s.ctrl.Providers())
	require.Equal(t, []string{"ollama"}, kindNames(s.Arbiter()))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Ollama.Disabled = true
	cfg.LMStudio.Disabled = true
	_, err := New(cfg, Options{Logger: zerolog.Nop()})
	require.Error(t, err)

	cfg = config.Default()
	cfg.Session.StartTier = "huge"
	_, err = New(cfg, Options{Logger: zerolog.Nop()})
	require.Error(t, err)
}

func TestPrepare_Validation(t *testing.T) {
	s := newTestService(t, nil)

	_, err := s.Prepare(testCtx(t), "OpenAI", "gpt-4o")
	require.True(t, IsBadRequest(err), "got %v", err)
	var he interface{ StatusCode() int }
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusBadRequest, he.StatusCode())

	_, err = s.Prepare(testCtx(t), "Ollama", "  ")
	require.True(t, IsBadRequest(err))
}

func TestPrepare_UnreachableBackend(t *testing.T) {
	s := newTestService(t, nil)
	_, err := s.Prepare(testCtx(t), "Ollama", "llama3.1:8b")
	require.True(t, arbiter.IsBackendUnavailable(err), "got %v", err)
}

func TestChat_Validation(t *testing.T) {
	s := newTestService(t, nil)

	_, err := s.Chat(testCtx(t), types.ChatRequest{})
	require.True(t, IsBadRequest(err))

	_, err = s.Chat(testCtx(t), types.ChatRequest{Messages: []types.Message{{Role: "robot", Content: "x"}}})
	require.True(t, IsBadRequest(err))

	_, err = s.Chat(testCtx(t), types.ChatRequest{Messages: []types.Message{{Role: types.RoleUser, Content: "x"}}, ContextWindow: -1})
	require.True(t, IsBadRequest(err))
}

func TestModels_FromCatalogue(t *testing.T) {
	s := newTestService(t, func(c *config.Config) {
		c.Models = []types.ModelEntry{{Provider: "Ollama", Model: "llama3.1:8b", ContextWindow: 16384}}
	})
	require.Len(t, s.Models(), 1)
}

func kindNames(a *arbiter.Arbiter) []string {
	var out []string
	for _, k := range a.Kinds() {
		out = append(out, k.String())
	}
	return out
}
