package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/matsen/paperqa/internal/embedding"
	"github.com/matsen/paperqa/internal/reference"
)

// DefaultBatchSize is the number of chunk texts sent per EmbedBatch call.
const DefaultBatchSize = 32

// ProgressReporter receives progress updates during index building.
type ProgressReporter interface {
	// OnProgress is called with the number of chunks embedded so far.
	OnProgress(current, total int)
}

// ProgressFunc is a function adapter for ProgressReporter.
type ProgressFunc func(current, total int)

// OnProgress implements ProgressReporter.
func (f ProgressFunc) OnProgress(current, total int) {
	f(current, total)
}

// Builder constructs a semantic index from chunks.
type Builder struct {
	provider  embedding.Provider
	progress  ProgressReporter
	batchSize int
}

// NewBuilder creates a new index builder.
func NewBuilder(provider embedding.Provider) *Builder {
	return &Builder{
		provider:  provider,
		batchSize: DefaultBatchSize,
	}
}

// SetProgressReporter sets the progress reporter for the builder.
func (b *Builder) SetProgressReporter(reporter ProgressReporter) {
	b.progress = reporter
}

// SetBatchSize overrides the embedding batch size. Values below 1 are ignored.
func (b *Builder) SetBatchSize(n int) {
	if n > 0 {
		b.batchSize = n
	}
}

// Build embeds every chunk and returns an unsaved index holding them in
// order. Embedding failures abort the build.
func (b *Builder) Build(ctx context.Context, chunks []reference.Chunk) (*Index, *BuildStats, error) {
	startTime := time.Now()

	idx, err := NewIndex(b.provider.ModelName(), b.provider.Dimensions())
	if err != nil {
		return nil, nil, err
	}

	total := len(chunks)
	for start := 0; start < total; start += b.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		end := min(start+b.batchSize, total)
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		embs, err := b.provider.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, nil, fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}
		if len(embs) != len(batch) {
			return nil, nil, fmt.Errorf("embedding chunks %d-%d: got %d vectors for %d texts", start, end-1, len(embs), len(batch))
		}

		for i, c := range batch {
			if err := idx.Add(ctx, c, embs[i].Vector); err != nil {
				return nil, nil, err
			}
		}

		if b.progress != nil {
			b.progress.OnProgress(end, total)
		}
	}

	duration := time.Since(startTime)
	idx.Metadata.BuildDurationMs = duration.Milliseconds()

	stats := &BuildStats{
		ChunksIndexed: idx.Metadata.ChunkCount,
		PapersIndexed: idx.Metadata.PaperCount,
		Duration:      duration,
	}
	return idx, stats, nil
}
