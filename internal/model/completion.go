package model

// Message roles accepted on the completion surface. Kept as a closed set so
// the relay's translation logic can be checked exhaustively.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ValidRole reports whether role is one of the accepted message roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one turn of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// CompletionRequest is the OpenAI-compatible chat completion request body.
// Only the sampling parameters the gateway forwards are modeled; unknown
// fields are rejected rather than silently dropped.
type CompletionRequest struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	Temperature         *float64  `json:"temperature,omitempty"`
	TopP                *float64  `json:"top_p,omitempty"`
	MaxCompletionTokens *int      `json:"max_completion_tokens,omitempty"`
	Stop                []string  `json:"stop,omitempty"`
	Seed                *int      `json:"seed,omitempty"`
	PresencePenalty     *float64  `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64  `json:"frequency_penalty,omitempty"`
	Stream              bool      `json:"stream,omitempty"`
}

// Usage is the token accounting block attached to completion responses and,
// for streams, to the final chunk when the upstream reports it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionChoice is one alternative in a non-streaming response.
type CompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// CompletionResponse is the non-streaming chat completion response.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"` // "chat.completion"
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// Delta is the incremental payload of one stream chunk. Reasoning is the
// auxiliary channel some upstreams emit alongside content.
type Delta struct {
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// ChunkChoice is one alternative in a stream chunk.
type ChunkChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// CompletionChunk is one frame of a streamed completion
// (object "chat.completion.chunk").
type CompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// StreamError is the terminal error event emitted on an open stream when the
// upstream fails after partial output. It is an in-band frame, not a
// connection-level error, so callers can tell "partial output then failure"
// from "never started".
type StreamError struct {
	Error StreamErrorDetail `json:"error"`
}

// StreamErrorDetail carries the error surface of a terminal stream event.
type StreamErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
