// Package llm talks to the hosted chat-completion and embedding models.
// Consumers such as the retrieval gate, the memory orchestrator, and the
// chat handler use the Client interface instead of depending on a concrete
// HTTP client.
package llm

import (
	"context"
	"io"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions control a single completion call.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// Client abstracts the chat and embedding model endpoints.
type Client interface {
	// Chat sends messages and returns the assistant's full response text.
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)

	// ChatStream sends messages and returns the raw SSE stream from the
	// model endpoint. The caller is responsible for closing it.
	ChatStream(ctx context.Context, messages []Message, opts ChatOptions) (io.ReadCloser, error)

	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}
