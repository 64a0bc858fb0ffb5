package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ollama/ollama/api"
)

// Ollama generates through the Ollama chat endpoint.
type Ollama struct {
	client    *api.Client
	keepAlive time.Duration
	numCtx    func(model string) int
}

// NewOllama wraps an Ollama API client. numCtx supplies num_ctx for
// requests without a ContextWindow and may be nil.
func NewOllama(client *api.Client, keepAlive time.Duration, numCtx func(model string) int) *Ollama {
	return &Ollama{client: client, keepAlive: keepAlive, numCtx: numCtx}
}

func (o *Ollama) Generate(ctx context.Context, req Request, onChunk func(string) error) (Result, error) {
	msgs := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}
	stream := true
	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.ContextWindow > 0 {
		options["num_ctx"] = req.ContextWindow
	} else if o.numCtx != nil {
		if n := o.numCtx(req.Model); n > 0 {
			options["num_ctx"] = n
		}
	}
	creq := &api.ChatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  options,
	}
	if o.keepAlive > 0 {
		creq.KeepAlive = &api.Duration{Duration: o.keepAlive}
	}

	var res Result
	err := o.client.Chat(ctx, creq, func(r api.ChatResponse) error {
		if r.Message.Content != "" {
			if err := onChunk(r.Message.Content); err != nil {
				return err
			}
		}
		if r.Done {
			res.FinishReason = NormalizeFinish(r.DoneReason)
			res.Usage.PromptTokens = r.PromptEvalCount
			res.Usage.CompletionTokens = r.EvalCount
			res.Usage.TotalTokens = r.PromptEvalCount + r.EvalCount
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("ollama chat: %w", err)
	}
	return res, nil
}
