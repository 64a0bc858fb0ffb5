package types

// Message is one role-tagged conversation entry.
type Message struct {
	// Role of the author: user, assistant or system.
	// example: user
	Role string `json:"role" example:"user"`
	// Message text. User messages may start with provider/model markers.
	// example: [Model: llama3.1:8b]\n\n[Provider: Ollama]\n\nWrite a haiku.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ModelEntry describes a model known to the catalogue.
type ModelEntry struct {
	// Provider name as used in markers (Ollama, LMStudio, OpenAI, Anthropic).
	// example: Ollama
	Provider string `json:"provider" yaml:"provider" toml:"provider" example:"Ollama"`
	// Model identifier known to the provider.
	// example: llama3.1:8b
	Model string `json:"model" yaml:"model" toml:"model" example:"llama3.1:8b"`
	// Maximum combined prompt and output tokens.
	// example: 8192
	ContextWindow int `json:"context_window" yaml:"context_window" toml:"context_window" example:"8192"`
}

// Usage is token accounting for one or more generation calls.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}
