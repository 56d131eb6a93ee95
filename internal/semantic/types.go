// Package semantic provides the persisted vector index over paper chunks and
// nearest-neighbour retrieval against it.
package semantic

import (
	"time"

	"github.com/matsen/paperqa/internal/reference"
)

// Metadata is the record stored alongside the vectors. It is checked against
// the running configuration when the index is loaded.
type Metadata struct {
	// Version is the format version for compatibility checking.
	// Check against CurrentIndexVersion when loading.
	Version int `json:"version"`

	ModelName       string    `json:"embedding_model"`   // e.g., "all-minilm:l6-v2"
	Dimensions      int       `json:"dimensions"`        // 384 for all-minilm
	Metric          string    `json:"metric"`            // Similarity metric the vectors were built for
	CreatedAt       time.Time `json:"created_at"`        // When index was built
	ChunkCount      int       `json:"chunk_count"`       // Number of chunks indexed
	PaperCount      int       `json:"paper_count"`       // Number of distinct papers indexed
	SkippedCount    int       `json:"skipped_rows"`      // Input rows skipped for missing fields
	BuildDurationMs int64     `json:"build_duration_ms"` // Time to build in milliseconds
	Sources         []string  `json:"sources,omitempty"` // Input CSV file names
}

// Hit is a retrieved chunk and its similarity to the query.
type Hit struct {
	Chunk reference.Chunk `json:"chunk"`
	Score float32         `json:"score"`
}

// BuildStats contains statistics from index building.
type BuildStats struct {
	ChunksIndexed int           `json:"chunks_indexed"`
	PapersIndexed int           `json:"papers_indexed"`
	Duration      time.Duration `json:"duration"`
}
