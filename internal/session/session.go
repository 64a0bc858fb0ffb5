package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vramd/internal/arbiter"
	"vramd/internal/backend"
	"vramd/internal/budget"
	"vramd/internal/llm"
	"vramd/pkg/types"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateResourcePreparation State = iota
	StateGenerating
	StateContinuationPending
	StateComplete
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateResourcePreparation:
		return "resource_preparation"
	case StateGenerating:
		return "generating"
	case StateContinuationPending:
		return "continuation_pending"
	case StateComplete:
		return "complete"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// session is the per-request state. It lives for one stream only.
type session struct {
	c   *Controller
	id  string
	out chan<- types.StreamPart
	log zerolog.Logger

	req      Request
	messages []types.Message
	provider Provider
	model    string

	state    State
	segments int
	usage    types.Usage
	tier     budget.Tier
	order    int
}

func newSession(c *Controller, req Request, out chan<- types.StreamPart) *session {
	id := uuid.NewString()
	return &session{
		c:        c,
		id:       id,
		out:      out,
		log:      c.log.With().Str("session", id).Logger(),
		req:      req,
		messages: append([]types.Message(nil), req.Messages...),
		tier:     c.startTier,
	}
}

func (s *session) run(ctx context.Context) {
	outcome := s.drive(ctx)
	if ctx.Err() != nil && s.state != StateComplete {
		outcome = "canceled"
	}
	sessionTotal.WithLabelValues(outcome).Inc()
	if s.segments > 0 {
		sessionSegments.Observe(float64(s.segments))
	}
	s.log.Info().Str("event", "session_end").Str("state", s.state.String()).Str("outcome", outcome).
		Int("segments", s.segments).Int("total_tokens", s.usage.TotalTokens).Msg("session finished")
	s.state = StateClosed
}

// drive runs the state machine and returns the outcome label.
func (s *session) drive(ctx context.Context) string {
	s.state = StateResourcePreparation
	if err := s.resolveTarget(); err != nil {
		s.fail(ctx, "invalid_request", err)
		return "invalid"
	}
	if err := s.prepare(ctx); err != nil {
		s.fail(ctx, errorCode(err), err)
		return "prepare_failed"
	}

	window := s.c.windows.Resolve(s.req.ContextWindow, s.provider.Name, s.model)
	for {
		s.state = StateGenerating
		plan := s.c.planner.Plan(s.c.prompts, stripAll(s.messages), window, s.tier)
		s.tier = plan.Tier
		s.segments++
		s.log.Debug().Str("event", "segment_start").Int("segment", s.segments).Str("tier", plan.Tier.String()).
			Int("max_tokens", plan.Budget.AvailableForOutput).Int("trimmed", plan.Trimmed).Bool("overflow", plan.Budget.Overflow).
			Msg("generating")
		if s.segments > 1 {
			_ = s.progress(ctx, "continuation", types.ProgressInProgress,
				fmt.Sprintf("Continuing response (segment %d of %d)", s.segments, s.c.maxSegments))
		}

		var partial strings.Builder
		res, err := s.provider.Generator.Generate(ctx, llm.Request{
			Model:         s.model,
			System:        plan.System,
			Messages:      plan.Messages,
			MaxTokens:     plan.Budget.AvailableForOutput,
			ContextWindow: window,
		}, func(chunk string) error {
			partial.WriteString(chunk)
			return s.emit(ctx, types.StreamPart{Type: types.PartText, Text: chunk})
		})
		s.usage.Add(res.Usage)
		if err != nil {
			if ctx.Err() != nil {
				return "canceled"
			}
			s.log.Warn().Str("event", "generation_failed").Int("segment", s.segments).Err(err).Msg("generation stream failed")
			s.emitUsage(ctx)
			s.fail(ctx, "generation_failed", err)
			return "generation_failed"
		}

		if res.FinishReason != llm.FinishLength {
			s.state = StateComplete
			s.emitUsage(ctx)
			_ = s.progress(ctx, "response", types.ProgressComplete, "Response complete")
			return "complete"
		}
		if s.segments >= s.c.maxSegments {
			s.emitUsage(ctx)
			s.fail(ctx, "segment_limit_exceeded", segmentLimitError{max: s.c.maxSegments})
			return "segment_limit"
		}

		s.state = StateContinuationPending
		s.messages = append(s.messages,
			types.Message{Role: types.RoleAssistant, Content: partial.String()},
			types.Message{Role: types.RoleUser, Content: FormatMarkers(s.provider.Name, s.model) + s.c.continuePrompt},
		)
		s.log.Info().Str("event", "segment_truncated").Int("segment", s.segments).Msg("length limit reached; continuing")
	}
}

// resolveTarget picks provider and model: markers on the latest user
// message, then the request hints, then the configured defaults.
func (s *session) resolveTarget() error {
	if lastUserIndex(s.messages) < 0 {
		return invalidRequestError{msg: "conversation has no user message"}
	}
	name, model := s.req.ProviderHint, s.req.ModelHint
	if p, m, ok := ParseMarkers(s.messages[lastUserIndex(s.messages)].Content); ok {
		name, model = p, m
	}
	if name == "" {
		name = s.c.defaultProvider
	}
	if model == "" {
		model = s.c.defaultModel
	}
	if name == "" || model == "" {
		return invalidRequestError{msg: "no provider or model selected"}
	}
	p, ok := s.c.provider(name)
	if !ok {
		return invalidRequestError{msg: fmt.Sprintf("unknown provider %q", name)}
	}
	s.provider, s.model = p, model
	s.log = s.log.With().Str("provider", p.Name).Str("model", model).Logger()
	return nil
}

// prepare secures the GPU for local targets and frees it for cloud targets.
func (s *session) prepare(ctx context.Context) error {
	if !s.provider.Local() {
		_ = s.progress(ctx, "resource", types.ProgressInProgress, "Releasing local models for "+s.provider.Name)
		freed := s.c.arbiter.UnloadAll(ctx)
		return s.progress(ctx, "resource", types.ProgressComplete, fmt.Sprintf("Released %d local model(s)", freed))
	}

	_ = s.progress(ctx, "resource", types.ProgressInProgress, fmt.Sprintf("Loading %s on %s", s.model, s.provider.Name))
	err := s.c.arbiter.Prepare(ctx, s.provider.Kind, s.model)
	if err != nil && (arbiter.IsBackendUnavailable(err) || arbiter.IsPrepareFailed(err)) {
		s.log.Warn().Str("event", "prepare_failed").Err(err).Msg("preferred backend failed; trying fallback")
		if ferr := s.fallback(ctx, err); ferr == nil {
			err = nil
		}
	}
	if err != nil {
		return err
	}
	return s.progress(ctx, "resource", types.ProgressComplete, fmt.Sprintf("%s ready on %s", s.model, s.provider.Name))
}

// fallback substitutes the configured model on another local backend and
// rewrites the pending markers to match.
func (s *session) fallback(ctx context.Context, cause error) error {
	for _, kind := range backend.Kinds {
		if kind == s.provider.Kind {
			continue
		}
		alt, ok := s.c.byKind[kind]
		model := s.c.fallbacks[kind]
		if !ok || model == "" {
			continue
		}
		_ = s.progress(ctx, "fallback", types.ProgressInProgress,
			fmt.Sprintf("%s unavailable; switching to %s on %s", s.provider.Name, model, alt.Name))
		if err := s.c.arbiter.Prepare(ctx, kind, model); err != nil {
			s.log.Warn().Str("event", "fallback_failed").Str("fallback_provider", alt.Name).Str("fallback_model", model).Err(err).Msg("fallback failed")
			continue
		}
		s.log.Info().Str("event", "fallback").Str("from", s.provider.Name).Str("to", alt.Name).Str("fallback_model", model).Msg("switched backend")
		s.provider, s.model = alt, model
		rewriteLastMarked(s.messages, alt.Name, model)
		return nil
	}
	return cause
}

func (s *session) fail(ctx context.Context, code string, err error) {
	s.state = StateErrored
	_ = s.emit(ctx, types.StreamPart{Type: types.PartError, Error: err.Error(), Code: code})
}

func (s *session) emitUsage(ctx context.Context) {
	u := s.usage
	_ = s.emit(ctx, types.StreamPart{Type: types.PartUsage, Usage: &u})
}

func (s *session) progress(ctx context.Context, label, status, msg string) error {
	s.order++
	return s.emit(ctx, types.StreamPart{Type: types.PartProgress, Progress: &types.ProgressEvent{
		Label:   label,
		Status:  status,
		Order:   s.order,
		Message: msg,
	}})
}

// emit delivers one part unless the caller has gone away.
func (s *session) emit(ctx context.Context, p types.StreamPart) error {
	p.Session = s.id
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.out <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errorCode(err error) string {
	switch {
	case arbiter.IsBackendUnavailable(err):
		return "backend_unavailable"
	case arbiter.IsModelNotFound(err):
		return "model_not_found"
	case arbiter.IsPrepareFailed(err):
		return "prepare_failed"
	case IsInvalidRequest(err):
		return "invalid_request"
	}
	return "internal"
}
