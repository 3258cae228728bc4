package llm

import "context"

// EmbeddingGenerator is the interface for generating vector embeddings.
// The retrieval pipeline embeds queries and cluster descriptions through
// this interface; which backend produces the vectors is opaque to callers.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
