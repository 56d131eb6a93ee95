package embedding

import "context"

// Provider generates embeddings from text.
//
// Ingestion and query-time retrieval must go through the same Provider so
// stored and query vectors share one vector space. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Embed generates an embedding for the given text.
	Embed(ctx context.Context, text string) (Embedding, error)

	// EmbedBatch embeds texts in order. The result has one embedding per
	// input, at the same position.
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)

	// ModelName returns the name of the embedding model.
	ModelName() string

	// Dimensions returns the expected vector dimensions.
	Dimensions() int
}
