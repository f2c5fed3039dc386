package agent

import (
	"context"

	"github.com/troupehq/troupe/pkg/models"
)

// Provider is the interface a model backend exposes to the loop.
//
// Implementations handle the specifics of one LLM API (Anthropic, OpenAI,
// Gemini) while presenting a unified streaming surface. Transport retries
// are the provider's job; by the time Complete returns an error, the
// provider has exhausted its retry budget.
//
// Implementations must be safe for concurrent use; unrelated sessions call
// Complete simultaneously.
type Provider interface {
	// Complete sends a request and returns a channel of streamed chunks.
	// The channel is closed after the final chunk (Done or Error).
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name ("anthropic", "openai", "google").
	Name() string
}

// CompletionRequest carries everything a provider needs for one model call.
type CompletionRequest struct {
	// Model is the provider-specific model identifier. Empty selects the
	// provider's default.
	Model string `json:"model"`

	// System sets the assistant's behavior. Handled out-of-band from
	// Messages by every provider API.
	System string `json:"system,omitempty"`

	// Messages is the conversation so far, oldest first.
	Messages []models.Message `json:"messages"`

	// Tools the model may call this turn. Nil means the model must answer
	// in text; providers send no tool declarations at all.
	Tools []Tool `json:"-"`

	// MaxTokens bounds the response length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionChunk is one element of a streamed response.
//
// Exactly one of Text, ToolCall, Done, or Error is meaningful per chunk.
// Token counts ride on the final Done chunk.
type CompletionChunk struct {
	// Text is a partial response fragment.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete tool invocation request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done marks successful end of stream.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	// InputTokens and OutputTokens report usage on the Done chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}
