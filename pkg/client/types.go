package client

// GenerateRequest is the payload sent to the gateway on both the
// streaming and the submission endpoints.
type GenerateRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// SubmitResponse is returned by the submission-only endpoint.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// QueueStatus is returned by the queue introspection endpoint.
type QueueStatus struct {
	QueueName   string `json:"queue_name"`
	PendingJobs int    `json:"pending_jobs"`
}

// Stream message kinds, as emitted by the gateway.
const (
	TypeStart    = "start"
	TypeToken    = "token"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Metrics mirrors the gateway's completion metrics.
type Metrics struct {
	TTFTMs           float64 `json:"ttft_ms"`
	TotalTimeMs      float64 `json:"total_time_ms"`
	GenerationTimeMs float64 `json:"generation_time_ms"`
	TokensPerSecond  float64 `json:"tokens_per_second"`

	EnginePromptTokens     int     `json:"llama_prompt_tokens"`
	EnginePromptEvalMs     float64 `json:"llama_prompt_eval_ms"`
	EnginePromptTPS        float64 `json:"llama_prompt_tps"`
	EngineGenerationTokens int     `json:"llama_generation_tokens"`
	EngineGenerationMs     float64 `json:"llama_generation_ms"`
	EngineGenerationTPS    float64 `json:"llama_generation_tps"`
}

// Message is one message observed on a generation stream.
type Message struct {
	Type       string   `json:"type"`
	RequestID  string   `json:"request_id"`
	Timestamp  float64  `json:"timestamp"`
	Content    string   `json:"content,omitempty"`
	TokenIndex int      `json:"token_index,omitempty"`
	TokenCount int      `json:"token_count,omitempty"`
	Metrics    *Metrics `json:"metrics,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Terminal reports whether no further messages follow.
func (m *Message) Terminal() bool {
	return m.Type == TypeComplete || m.Type == TypeError
}
