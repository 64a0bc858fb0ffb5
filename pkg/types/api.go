package types

// PrepareRequest is the payload for POST /prepare.
type PrepareRequest struct {
	// Local provider to activate.
	// example: Ollama
	Provider string `json:"provider" example:"Ollama"`
	// Model to make resident.
	// example: llama3.1:8b
	Model string `json:"model" example:"llama3.1:8b"`
}

// PrepareResponse reports the active pair after a successful prepare.
type PrepareResponse struct {
	Provider string `json:"provider" example:"ollama"`
	Model    string `json:"model" example:"llama3.1:8b"`
}

// UnloadResponse is returned by POST /unload.
type UnloadResponse struct {
	// Number of resident models an unload was issued for.
	// example: 1
	Freed int `json:"freed" example:"1"`
}

// ChatRequest is the payload for POST /chat.
type ChatRequest struct {
	// Conversation so far, oldest first.
	Messages []Message `json:"messages"`
	// Provider used when the latest user message carries no markers.
	// example: Ollama
	Provider string `json:"provider,omitempty" example:"Ollama"`
	// Model used when the latest user message carries no markers.
	// example: llama3.1:8b
	Model string `json:"model,omitempty" example:"llama3.1:8b"`
	// Context window override; 0 uses the catalogue.
	// example: 8192
	ContextWindow int `json:"context_window,omitempty" example:"8192"`
}

// Stream part types emitted by POST /chat.
const (
	PartText     = "text"
	PartProgress = "progress"
	PartUsage    = "usage"
	PartError    = "error"
)

// Progress statuses.
const (
	ProgressInProgress = "in-progress"
	ProgressComplete   = "complete"
)

// ProgressEvent is one entry of a session's ordered progress log.
type ProgressEvent struct {
	// example: resource
	Label string `json:"label" example:"resource"`
	// example: in-progress
	Status string `json:"status" example:"in-progress"`
	// Strictly increasing within a session.
	// example: 1
	Order int `json:"order" example:"1"`
	// example: Loading llama3.1:8b on ollama
	Message string `json:"message" example:"Loading llama3.1:8b on ollama"`
}

// StreamPart is one NDJSON line of a chat stream.
type StreamPart struct {
	Type string `json:"type"`
	// Session id, identical on every part of one stream.
	Session  string         `json:"session,omitempty"`
	Text     string         `json:"text,omitempty"`
	Progress *ProgressEvent `json:"progress,omitempty"`
	Usage    *Usage         `json:"usage,omitempty"`
	Error    string         `json:"error,omitempty"`
	// Machine readable error kind (invalid_request, backend_unavailable,
	// model_not_found, prepare_failed, segment_limit_exceeded,
	// generation_failed).
	Code string `json:"code,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ResidentStatus describes a model occupying GPU memory on a backend.
type ResidentStatus struct {
	// example: llama3.1:8b
	Model string `json:"model" example:"llama3.1:8b"`
	// Backend instance id when the backend uses one.
	InstanceID string `json:"instance_id,omitempty"`
	// example: 4920000000
	SizeBytes int64 `json:"size_bytes,omitempty" example:"4920000000"`
	// example: 8192
	ContextLength int `json:"context_length,omitempty" example:"8192"`
}

// BackendStatus summarizes one local backend for /status.
type BackendStatus struct {
	// example: ollama
	Kind string `json:"kind" example:"ollama"`
	// example: http://127.0.0.1:11434
	BaseURL   string           `json:"base_url" example:"http://127.0.0.1:11434"`
	Reachable bool             `json:"reachable"`
	Resident  []ResidentStatus `json:"resident"`
	Error     string           `json:"error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Tracked active provider; empty when nothing is tracked.
	// example: ollama
	ActiveProvider string `json:"active_provider" example:"ollama"`
	// example: llama3.1:8b
	ActiveModel string `json:"active_model" example:"llama3.1:8b"`
	// True while an arbiter critical section runs.
	Locked bool `json:"locked"`
	// Callers queued behind the current holder.
	Waiting  int             `json:"waiting"`
	Backends []BackendStatus `json:"backends"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}
