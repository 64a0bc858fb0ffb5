package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"vramd/pkg/types"
)

// defaultAnthropicMaxTokens is used when the request leaves MaxTokens unset;
// the Messages API requires a value.
const defaultAnthropicMaxTokens = 4096

// Anthropic generates through the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic builds a client with a static key. baseURL may be empty.
func NewAnthropic(apiKey, baseURL string, opts ...anthropicoption.RequestOption) *Anthropic {
	all := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
	if baseURL != "" {
		all = append(all, anthropicoption.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	return &Anthropic{client: anthropic.NewClient(all...)}
}

func (p *Anthropic) Generate(ctx context.Context, req Request, onChunk func(string) error) (Result, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  anthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	res := Result{FinishReason: FinishStop}
	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			res.Usage.PromptTokens = int(variant.Message.Usage.InputTokens)
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := onChunk(delta.Text); err != nil {
					return res, err
				}
			}
		case anthropic.MessageDeltaEvent:
			if variant.Delta.StopReason != "" {
				res.FinishReason = NormalizeFinish(string(variant.Delta.StopReason))
			}
			res.Usage.CompletionTokens = int(variant.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return res, fmt.Errorf("anthropic stream: %w", err)
	}
	res.Usage.TotalTokens = res.Usage.PromptTokens + res.Usage.CompletionTokens
	return res, nil
}

// anthropicMessages converts the conversation. System entries inside the
// list are sent as user text since the API takes the system prompt apart.
func anthropicMessages(msgs []types.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == types.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}
