// Package stream defines the wire types shared by the gateway and the
// worker: the queued Job, the per-request stream messages and the
// deterministic channel naming that correlates the two.
package stream

import (
	"fmt"
	"time"
)

// Message types published on a request channel. Every request observes
// the sequence start, zero or more tokens, then exactly one terminal
// message (complete or error).
const (
	TypeStart    = "start"
	TypeToken    = "token"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Job is one unit of generation work. Immutable once enqueued and
// consumed exactly once by whichever worker pops it.
type Job struct {
	RequestID string `json:"request_id"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

// Metrics carries driver-side wall-clock timings plus the engine's own
// figures parsed from its diagnostic output. Engine fields are
// best-effort and stay zero when parsing finds no matching markers.
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

// Message is the tagged union relayed from worker to client. Only the
// fields relevant to Type are populated.
type Message struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	// Timestamp is seconds since the Unix epoch.
	Timestamp float64 `json:"timestamp"`

	// token
	Content    string `json:"content,omitempty"`
	TokenIndex int    `json:"token_index,omitempty"`

	// complete
	TokenCount int      `json:"token_count,omitempty"`
	Metrics    *Metrics `json:"metrics,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// Terminal reports whether no further messages follow on the channel.
func (m *Message) Terminal() bool {
	return m.Type == TypeComplete || m.Type == TypeError
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func NewStart(requestID string) Message {
	return Message{Type: TypeStart, RequestID: requestID, Timestamp: now()}
}

func NewToken(requestID, content string, index int) Message {
	return Message{
		Type:       TypeToken,
		RequestID:  requestID,
		Timestamp:  now(),
		Content:    content,
		TokenIndex: index,
	}
}

func NewComplete(requestID string, tokenCount int, metrics Metrics) Message {
	return Message{
		Type:       TypeComplete,
		RequestID:  requestID,
		Timestamp:  now(),
		TokenCount: tokenCount,
		Metrics:    &metrics,
	}
}

func NewError(requestID, errMsg string) Message {
	return Message{Type: TypeError, RequestID: requestID, Timestamp: now(), Error: errMsg}
}

// ChannelFor builds the per-request channel name. Any component can
// reconstruct it from the request identity alone.
func ChannelFor(prefix, requestID string) string {
	return fmt.Sprintf("%s.%s", prefix, requestID)
}
