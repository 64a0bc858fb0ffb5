package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"vramd/pkg/types"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vramd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":7000\"\nlog_level: warn\nollama:\n  fallback_model: llama3.2:3b\n"), 0o600))

	cfg, err := loadConfig(&options{configPath: path, logLevel: "debug"})
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "llama3.2:3b", cfg.Ollama.FallbackModel)
	require.Equal(t, 2, cfg.Session.MaxSegments)
	if os.Getenv("VRAMD_ADDR") == "" {
		require.Equal(t, ":7000", cfg.Addr)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(&options{configPath: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"message":"shown"`)
	require.Equal(t, zerolog.WarnLevel, log.GetLevel())

	_, err = newLogger(&buf, "loud", "json")
	require.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	require.Error(t, err)
}

func TestClientCommands(t *testing.T) {
	var prepared types.PrepareRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/status":
			_ = json.NewEncoder(w).Encode(types.StatusResponse{ActiveProvider: "ollama", ActiveModel: "m"})
		case "/prepare":
			_ = json.NewDecoder(r.Body).Decode(&prepared)
			if prepared.Model == "missing" {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "model missing not found", Code: 404})
				return
			}
			_ = json.NewEncoder(w).Encode(types.PrepareResponse{Provider: "ollama", Model: prepared.Model})
		case "/unload":
			_ = json.NewEncoder(w).Encode(types.UnloadResponse{Freed: 2})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCmd(t, "status", "--server", srv.URL)
	require.NoError(t, err)
	require.Contains(t, out, `"active_model": "m"`)

	out, err = runCmd(t, "prepare", "Ollama", "llama3.1:8b", "--server", srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Ollama", prepared.Provider)
	require.Contains(t, out, "llama3.1:8b is active on ollama")

	_, err = runCmd(t, "prepare", "Ollama", "missing", "--server", srv.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")

	out, err = runCmd(t, "unload", "--server", srv.URL)
	require.NoError(t, err)
	require.Contains(t, out, "2 model(s)")
}

func TestPrepareRequiresTwoArgs(t *testing.T) {
	_, err := runCmd(t, "prepare", "Ollama")
	require.Error(t, err)
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vramd.toml")
	require.NoError(t, os.WriteFile(path, []byte("[openai]\napi_key = \"sk-secret\"\n"), 0o600))

	out, err := runCmd(t, "config", "show", "--config", path)
	require.NoError(t, err)
	require.NotContains(t, out, "sk-secret")
	require.Contains(t, out, "***")
	require.True(t, strings.Contains(out, "unload: 15s"), out)
}
