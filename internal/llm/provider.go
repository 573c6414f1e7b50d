// Package llm defines the provider-agnostic ModelClient capability (C3):
// chat completion and embedding behind a small interface, dispatched by
// model name through a registry, following the shape of the teacher's
// internal/llm package without its image/tool-call/compaction surface,
// which this service has no use for.
package llm

import "context"

// Message is one turn sent to or received from a chat provider.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatClient performs a single-turn chat completion.
type ChatClient interface {
	Chat(ctx context.Context, msgs []Message, model string) (string, error)
}

// Embedder produces vector embeddings for a batch of texts. Not every
// provider can embed; the registry records this per spec §9.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Provider is the full capability a registry entry may offer. Embedder is
// nil when the provider cannot embed.
type Provider struct {
	Name     string
	Chat     ChatClient
	Embedder Embedder // nil if this provider cannot embed
}
