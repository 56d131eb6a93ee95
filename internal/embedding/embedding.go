// Package embedding provides vector embedding generation for text.
package embedding

import "errors"

// ErrUnavailable is returned when the embedding backend cannot be reached or
// does not serve the configured model. Callers treat it as fatal at startup.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Embedding represents a vector embedding of text.
type Embedding struct {
	Vector []float32 // The embedding vector (e.g., 384 dimensions for all-minilm)
}

// Dimensions returns the dimensionality of the embedding.
func (e Embedding) Dimensions() int {
	return len(e.Vector)
}
