// Package llm streams chat completions from local and cloud providers behind
// one small interface. Each implementation reports a normalized finish
// reason so callers can tell a length cut-off from a natural stop.
package llm

import (
	"context"
	"strings"

	"vramd/pkg/types"
)

// FinishReason says why a generation ended.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishOther  FinishReason = "other"
)

// NormalizeFinish maps provider-specific reasons onto FinishReason.
func NormalizeFinish(raw string) FinishReason {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "length", "max_tokens", "max_output_tokens", "model_length":
		return FinishLength
	case "", "stop", "end_turn", "stop_sequence", "eos":
		return FinishStop
	}
	return FinishOther
}

// Request is one bounded generation call.
type Request struct {
	Model    string
	System   string
	Messages []types.Message
	// MaxTokens bounds the output; zero leaves the provider default.
	MaxTokens int
	// ContextWindow is the window the budget was planned against. Runtimes
	// that size their context per request use it; zero means unknown.
	ContextWindow int
}

// Result summarizes a finished generation.
type Result struct {
	FinishReason FinishReason
	Usage        types.Usage
}

// Generator streams one completion. onChunk receives text deltas in order;
// a non-nil return from onChunk aborts the stream with that error.
// Implementations must return when ctx is canceled.
type Generator interface {
	Generate(ctx context.Context, req Request, onChunk func(string) error) (Result, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request, onChunk func(string) error) (Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request, onChunk func(string) error) (Result, error) {
	return f(ctx, req, onChunk)
}
