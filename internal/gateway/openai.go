package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// The gateway speaks the chat-completions wire shape so any
// OpenAI-compatible client (Home Assistant's conversation agent included)
// can point at Porchlight unchanged. Only the fields Porchlight consumes
// are modelled; unknown request fields are ignored by the decoder.

// ChatMessage is one turn in the chat-completions envelope.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body of POST /v1/chat/completions.
//
// SessionID is a Porchlight extension: clients that want conversation
// continuity across requests pass a stable identifier. Standard clients
// omit it and each request is treated as anonymous.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	User        string        `json:"user,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`
}

// ChatChoice is one completion alternative. Porchlight always returns
// exactly one.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage mirrors the OpenAI usage block.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the response body of POST /v1/chat/completions.
// Metadata is a Porchlight extension carrying the pipeline verdict
// (intent, mode, citations); compliant clients ignore unknown fields.
type ChatResponse struct {
	ID       string         `json:"id"`
	Object   string         `json:"object"`
	Created  int64          `json:"created"`
	Model    string         `json:"model"`
	Choices  []ChatChoice   `json:"choices"`
	Usage    ChatUsage      `json:"usage"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// newChatResponse builds a single-choice response envelope.
func newChatResponse(model, content string, usage ChatUsage) ChatResponse {
	return ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: usage,
	}
}

// chatError is the OpenAI-shaped error body.
type chatError struct {
	Error chatErrorBody `json:"error"`
}

type chatErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Error types used in responses, matching the OpenAI taxonomy.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeRateLimit      = "rate_limit_error"
	errTypeAPI            = "api_error"
)

// writeChatError writes an OpenAI-shaped error with the given status.
func writeChatError(w http.ResponseWriter, status int, message, errType, code string) {
	writeJSON(w, status, chatError{Error: chatErrorBody{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
}

// lastUserMessage returns the content of the final user-role message,
// which is the utterance the pipeline answers. Empty when there is none.
func lastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
