// Package embeddingtest provides a deterministic embedding provider for
// tests that must not depend on a running Ollama.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/matsen/paperqa/internal/embedding"
)

// DefaultDimensions is the vector size used when Provider.Dims is zero.
const DefaultDimensions = 256

// Provider embeds text as a hashed bag of lower-cased words. Texts sharing
// words score higher under cosine similarity. The last dimension is a
// constant bias so no vector is ever zero.
type Provider struct {
	Model string
	Dims  int

	// Fixed maps exact input texts to vectors, bypassing the bag of words.
	Fixed map[string][]float32

	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
}

// New returns a provider with the default dimension.
func New(model string) *Provider {
	return &Provider{Model: model, Dims: DefaultDimensions}
}

// Embed implements embedding.Provider.
func (p *Provider) Embed(ctx context.Context, text string) (embedding.Embedding, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return embedding.Embedding{}, err
	}
	if p.Err != nil {
		return embedding.Embedding{}, p.Err
	}
	if v, ok := p.Fixed[text]; ok {
		return embedding.Embedding{Vector: append([]float32(nil), v...)}, nil
	}
	return embedding.Embedding{Vector: p.bag(text)}, nil
}

// EmbedBatch implements embedding.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Embedding, error) {
	out := make([]embedding.Embedding, len(texts))
	for i, text := range texts {
		emb, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// ModelName implements embedding.Provider.
func (p *Provider) ModelName() string {
	if p.Model == "" {
		return "bag-of-words"
	}
	return p.Model
}

// Dimensions implements embedding.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims <= 0 {
		return DefaultDimensions
	}
	return p.Dims
}

// Calls returns the number of Embed calls made so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) bag(text string) []float32 {
	dims := p.Dimensions()
	v := make([]float32, dims)
	v[dims-1] = 0.1

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[int(h.Sum32()%uint32(dims-1))]++
	}
	return v
}
