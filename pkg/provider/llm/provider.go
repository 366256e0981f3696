// Package llm defines the Provider interface for the language models that write
// comprehension quizzes.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic through
// any-llm-go, or a local Ollama instance) behind a single request/response
// call. The read-along server only needs whole completions, so there is no
// streaming surface.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// Sentinel errors returned by providers for replies that cannot be used.
// They let a fallback chain move on to the next model.
var (
	// ErrEmptyCompletion means the backend answered without any content.
	ErrEmptyCompletion = errors.New("llm: empty completion")

	// ErrTruncated means the reply stopped at the token limit, which leaves
	// JSON output unparseable.
	ErrTruncated = errors.New("llm: completion truncated at token limit")

	// ErrRefused means the model declined the request.
	ErrRefused = errors.New("llm: model refused the request")
)

// Message is one turn of the prompt.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// Messages.
	SystemPrompt string

	// Messages is the ordered conversation. The last message drives the
	// response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero leaves the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// JSONMode asks the backend to return a single JSON object. Backends
	// without a native JSON mode rely on the prompt alone, so callers must
	// tolerate prose around the JSON.
	JSONMode bool
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	// Content is the text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It
	// returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
