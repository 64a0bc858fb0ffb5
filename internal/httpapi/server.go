package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vramd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Prepare(ctx context.Context, provider, model string) (types.PrepareResponse, error)
	UnloadAll(ctx context.Context) types.UnloadResponse
	Status(ctx context.Context) types.StatusResponse
	Models() []types.ModelEntry
	Chat(ctx context.Context, req types.ChatRequest) (<-chan types.StreamPart, error)
	Ready() bool
}

type handlers struct {
	svc Service
}

// NewMux builds the router for svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc}
	r.Get("/models", h.models)
	r.Get("/status", h.status)
	r.Post("/prepare", h.prepare)
	r.Post("/unload", h.unload)
	r.Post("/chat", h.chat)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	if swaggerEnabled {
		MountSwagger(r)
	}
	return r
}

// decodeJSON enforces the content type and body limit. It writes the error
// response itself and reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Oversized bodies also land here; keep the message generic.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// models godoc
// @Summary      List catalogue models
// @Tags         models
// @Produce      json
// @Success      200  {object}  map[string][]types.ModelEntry
// @Router       /models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"models": h.svc.Models()})
}

// status godoc
// @Summary      Arbiter and backend status
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.Status(r.Context()))
}

// prepare godoc
// @Summary      Make a model resident on a local backend
// @Description  Unloads every other resident model, then loads the requested one.
// @Tags         resources
// @Accept       json
// @Produce      json
// @Param        request  body      types.PrepareRequest  true  "target"
// @Success      200      {object}  types.PrepareResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      502      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /prepare [post]
func (h *handlers) prepare(w http.ResponseWriter, r *http.Request) {
	var req types.PrepareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	log := requestLogger(r)
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	start := time.Now()
	resp, err := h.svc.Prepare(ctx, req.Provider, req.Model)
	if err != nil {
		status := statusFor(err)
		if requestLogLevel(r) >= LevelError {
			log.Warn().Str("event", "prepare_failed").Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("prepare failed")
		}
		writeJSONError(w, status, err.Error())
		return
	}
	if requestLogLevel(r) >= LevelInfo {
		log.Info().Str("event", "prepare_ok").Str("provider", resp.Provider).Str("model", resp.Model).Dur("dur", time.Since(start)).Msg("prepare")
	}
	writeJSON(w, resp)
}

// unload godoc
// @Summary      Unload every resident model on every local backend
// @Tags         resources
// @Produce      json
// @Success      200  {object}  types.UnloadResponse
// @Router       /unload [post]
func (h *handlers) unload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	resp := h.svc.UnloadAll(ctx)
	if requestLogLevel(r) >= LevelInfo {
		log := requestLogger(r)
		log.Info().Str("event", "unload_all").Int("freed", resp.Freed).Msg("unload")
	}
	writeJSON(w, resp)
}

// chat godoc
// @Summary      Run a chat turn
// @Description  Streams NDJSON StreamPart lines: progress, text, usage and at most one error.
// @Tags         chat
// @Accept       json
// @Produce      application/x-ndjson
// @Param        request  body      types.ChatRequest  true  "conversation"
// @Success      200      {object}  types.StreamPart
// @Failure      400      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Router       /chat [post]
func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lvl := requestLogLevel(r)
	log := requestLogger(r)

	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	if chatTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, chatTimeout)
		defer tcancel()
	}

	parts, err := h.svc.Chat(ctx, req)
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	writer := io.Writer(w)
	if lvl >= LevelDebug {
		writer = io.MultiWriter(w, &loggingLineWriter{log: log})
	}
	enc := json.NewEncoder(writer)

	start := time.Now()
	if lvl >= LevelInfo {
		log.Info().Str("event", "chat_start").Int("messages", len(req.Messages)).Msg("chat start")
	}
	var (
		n       int
		session string
		errCode string
	)
	for part := range parts {
		if session == "" {
			session = part.Session
		}
		if part.Type == types.PartError {
			errCode = part.Code
		}
		if err := enc.Encode(part); err != nil {
			// Client is gone: stop the session and drain what is buffered.
			cancel()
			for range parts {
			}
			break
		}
		flush()
		countPart(part.Type, part.Code)
		n++
	}
	if lvl >= LevelInfo {
		ev := log.Info()
		if errCode != "" {
			ev = log.Warn().Str("code", errCode)
		}
		ev.Str("event", "chat_end").Str("session", session).Int("parts", n).Dur("dur", time.Since(start)).Msg("chat end")
	}
}
