package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"vramd/pkg/types"
)

// OpenAI generates through an OpenAI-compatible chat completions endpoint:
// the OpenAI cloud or LM Studio's /v1 surface.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI builds a client for baseURL. An empty baseURL targets the
// OpenAI cloud; an empty apiKey is replaced by a placeholder since local
// servers ignore it but the client requires one.
func NewOpenAI(baseURL, apiKey string, opts ...option.RequestOption) *OpenAI {
	if apiKey == "" {
		apiKey = "not-needed"
	}
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	return &OpenAI{client: openai.NewClient(all...)}
}

func (p *OpenAI) Generate(ctx context.Context, req Request, onChunk func(string) error) (Result, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: openAIMessages(req.System, req.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	res := Result{FinishReason: FinishStop}
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			res.Usage = types.Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if err := onChunk(choice.Delta.Content); err != nil {
				return res, err
			}
		}
		if choice.FinishReason != "" {
			res.FinishReason = NormalizeFinish(string(choice.FinishReason))
		}
	}
	if err := stream.Err(); err != nil {
		return res, fmt.Errorf("chat completion stream: %w", err)
	}
	if res.Usage.TotalTokens == 0 {
		res.Usage.TotalTokens = res.Usage.PromptTokens + res.Usage.CompletionTokens
	}
	return res, nil
}

func openAIMessages(system string, msgs []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
