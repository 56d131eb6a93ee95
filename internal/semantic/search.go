package semantic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/matsen/paperqa/internal/embedding"
)

// Search returns the k chunks most similar to the query vector, or every
// chunk when the index holds fewer than k. Hits are ordered by score
// descending; equal scores keep insertion order.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if len(query) != idx.Metadata.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrInvalidArgument, len(query), idx.Metadata.Dimensions)
	}

	n := idx.coll.Count()
	if n == 0 {
		return []Hit{}, nil
	}

	// chromem-go orders by score but leaves ties unspecified, so rank the
	// full collection and apply the insertion-order tie-break here.
	results, err := idx.coll.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		chunk, err := chunkFromDocument(r.ID, r.Metadata, r.Content)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Chunk: chunk, Score: r.Similarity})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Ordinal < hits[j].Chunk.Ordinal
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Retriever embeds natural-language queries and searches an index with them.
type Retriever struct {
	provider embedding.Provider
	index    *Index
}

// NewRetriever creates a retriever. The provider must produce vectors in the
// same space the index was built with.
func NewRetriever(provider embedding.Provider, index *Index) *Retriever {
	return &Retriever{provider: provider, index: index}
}

// Index returns the index searched by the retriever.
func (r *Retriever) Index() *Index {
	return r.index
}

// Retrieve returns the top k chunks for a query text.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidArgument)
	}

	emb, err := r.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return r.index.Search(ctx, emb.Vector, k)
}
