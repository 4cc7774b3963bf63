// Package llm defines the Provider interface for language model backends.
//
// A provider wraps a remote or local model API (an OpenAI-compatible
// server, an Ollama instance, a llama.cpp server) and exposes a uniform
// request/response interface so the orchestrator and gateway never couple
// to a specific SDK. Porchlight returns whole responses to its callers,
// so the interface is deliberately non-streaming.
//
// Implementations must be safe for concurrent use and must propagate
// context cancellation promptly.
package llm

import "context"

// Message is one turn of a conversation sent to the model.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the turn's text.
	Content string `json:"content"`
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and differ between providers for the same text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs for one response.
// A zero-value request is invalid; Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected before the
	// conversation. Providers that lack a dedicated system slot prepend it
	// as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation history; the last message is
	// typically the user turn that drives the response.
	Messages []Message

	// Temperature controls randomness in [0.0, 2.0]. Zero requests the
	// provider default.
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the model's whole reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any model backend.
type Provider interface {
	// Complete sends req and waits for the full response. Returns an error
	// when the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages would consume in the
	// model's context window. The estimate may be rough but should not
	// undercount; the orchestrator uses it for tier selection.
	CountTokens(messages []Message) int

	// Model returns the backend's model identifier, for logs and the
	// response envelope.
	Model() string
}

// EstimateTokens is the shared char-based token approximation used by
// providers without a local tokeniser: ~4 characters per token plus a
// small per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}
