// Package llm defines the Provider interface for the conversational language
// model that drives call-agent replies.
//
// A provider wraps a remote or local model API and exposes a single
// completion entry point. The audio bridge keeps a rolling per-call
// conversation and asks the provider for one reply per caller utterance, so
// the interface is deliberately small: no tool calling, no streaming — a
// voice reply is synthesised as a whole before it is spoken.
//
// Implementations must be safe for concurrent use; one process serves many
// simultaneous calls.
package llm

import "context"

// Request carries everything the model needs to produce a conversational
// reply. Messages must be non-empty; the last message is the caller's
// utterance.
type Request struct {
	// SystemPrompt is the voice agent's persona and instructions, injected
	// ahead of the conversation history.
	SystemPrompt string

	// Messages is the ordered conversation history, oldest first.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means the provider default.
	// Voice replies are short; callers typically set a small cap here.
	MaxTokens int
}

// Response is the model's reply to a single Request.
type Response struct {
	// Content is the full text of the reply.
	Content string

	// PromptTokens and CompletionTokens hold token accounting when the
	// backend reports it; both are zero otherwise.
	PromptTokens     int
	CompletionTokens int
}

// Provider is the abstraction over any conversational model backend.
// Complete must propagate context cancellation promptly.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
