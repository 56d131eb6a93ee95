package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/matsen/paperqa/internal/embedding/embeddingtest"
	"github.com/matsen/paperqa/internal/reference"
)

func TestSearch_OrdersByScore(t *testing.T) {
	idx := buildIndex(t, map[string][]float32{
		"Far":     {0, 1, 0},
		"Closest": {1, 0, 0},
		"Middle":  {1, 1, 0},
	}, "Far", "Closest", "Middle")

	hits, err := idx.Search(context.Background(), []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	want := []string{"Closest", "Middle", "Far"}
	if len(hits) != len(want) {
		t.Fatalf("got %d hits, want %d", len(hits), len(want))
	}
	for i, title := range want {
		if hits[i].Chunk.Paper.Title != title {
			t.Errorf("hit %d = %q, want %q", i, hits[i].Chunk.Paper.Title, title)
		}
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not sorted: %f before %f", hits[i-1].Score, hits[i].Score)
		}
	}
	if hits[0].Score < 0.999 {
		t.Errorf("identical direction should score ~1, got %f", hits[0].Score)
	}
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	vectors := map[string][]float32{
		"First":  {1, 0},
		"Second": {1, 0},
		"Third":  {1, 0},
		"Other":  {0, 1},
	}
	idx := buildIndex(t, vectors, "Other", "First", "Second", "Third")

	for range 5 {
		hits, err := idx.Search(context.Background(), []float32{1, 0}, 3)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		for i, title := range []string{"First", "Second", "Third"} {
			if hits[i].Chunk.Paper.Title != title {
				t.Fatalf("hit %d = %q, want %q", i, hits[i].Chunk.Paper.Title, title)
			}
		}
	}
}

func TestSearch_Limits(t *testing.T) {
	ctx := context.Background()
	idx := buildIndex(t, map[string][]float32{
		"A": {1, 0}, "B": {0, 1}, "C": {1, 1},
	}, "A", "B", "C")

	tests := []struct {
		name string
		k    int
		want int
	}{
		{"k below size", 2, 2},
		{"k equals size", 3, 3},
		{"k above size", 5, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := idx.Search(ctx, []float32{1, 0}, tt.k)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			if len(hits) != tt.want {
				t.Errorf("got %d hits, want %d", len(hits), tt.want)
			}
		})
	}

	for _, k := range []int{0, -1} {
		if _, err := idx.Search(ctx, []float32{1, 0}, k); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("k=%d: expected ErrInvalidArgument, got %v", k, err)
		}
	}

	if _, err := idx.Search(ctx, []float32{1, 0, 0}, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("wrong query dimension: expected ErrInvalidArgument, got %v", err)
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx, _ := NewIndex("test-model", 2)

	hits, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search on empty index failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestRetriever_RanksRelevantPaperFirst(t *testing.T) {
	ctx := context.Background()
	provider := embeddingtest.New("test-model")

	papers := []reference.PaperRecord{
		reference.NewPaperRecord("Unrelated Cooking Techniques", "C. Chef",
			"Braising and roasting vegetables in a home kitchen.", "papers.csv"),
		reference.NewPaperRecord("Graph Neural Networks", "G. Author",
			"Graph neural networks learn representations of nodes in a graph.", "papers.csv"),
	}
	var chunks []reference.Chunk
	for _, p := range papers {
		chunks = append(chunks, reference.Chunks(p, 0, 0, len(chunks))...)
	}

	idx, _, err := NewBuilder(provider).Build(ctx, chunks)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	hits, err := NewRetriever(provider, idx).Retrieve(ctx, "graph neural networks", 1)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Chunk.Paper.Title != "Graph Neural Networks" {
		t.Errorf("top hit = %q, want %q", hits[0].Chunk.Paper.Title, "Graph Neural Networks")
	}
}

func TestRetriever_Errors(t *testing.T) {
	ctx := context.Background()
	idx, _ := NewIndex("test-model", embeddingtest.DefaultDimensions)

	r := NewRetriever(embeddingtest.New("test-model"), idx)
	if _, err := r.Retrieve(ctx, "query", 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("k=0: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := r.Retrieve(ctx, "   ", 3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("blank query: expected ErrInvalidArgument, got %v", err)
	}

	boom := errors.New("embedding backend down")
	failing := &embeddingtest.Provider{Model: "test-model", Err: boom}
	if _, err := NewRetriever(failing, idx).Retrieve(ctx, "query", 3); !errors.Is(err, boom) {
		t.Errorf("expected provider error to be wrapped, got %v", err)
	}
}
