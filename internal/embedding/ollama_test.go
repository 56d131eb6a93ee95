package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewOllamaProvider_Defaults(t *testing.T) {
	provider := NewOllamaProvider()

	if provider.baseURL != DefaultOllamaURL {
		t.Errorf("baseURL = %s, want %s", provider.baseURL, DefaultOllamaURL)
	}
	if provider.model != DefaultModel {
		t.Errorf("model = %s, want %s", provider.model, DefaultModel)
	}
	if provider.dimensions != DefaultDimensions {
		t.Errorf("dimensions = %d, want %d", provider.dimensions, DefaultDimensions)
	}
	if provider.client == nil {
		t.Error("client should not be nil")
	}
}

func TestNewOllamaProvider_WithOptions(t *testing.T) {
	customURL := "http://custom:8080"
	customModel := "custom-model"
	customDimensions := 768
	customTimeout := 60 * time.Second

	provider := NewOllamaProvider(
		WithBaseURL(customURL),
		WithModel(customModel),
		WithDimensions(customDimensions),
		WithTimeout(customTimeout),
	)

	if provider.baseURL != customURL {
		t.Errorf("baseURL = %s, want %s", provider.baseURL, customURL)
	}
	if provider.model != customModel {
		t.Errorf("model = %s, want %s", provider.model, customModel)
	}
	if provider.dimensions != customDimensions {
		t.Errorf("dimensions = %d, want %d", provider.dimensions, customDimensions)
	}
	if provider.client.Timeout != customTimeout {
		t.Errorf("timeout = %v, want %v", provider.client.Timeout, customTimeout)
	}
}

func TestOllamaProvider_ModelName(t *testing.T) {
	provider := NewOllamaProvider()
	if provider.ModelName() != DefaultModel {
		t.Errorf("ModelName() = %s, want %s", provider.ModelName(), DefaultModel)
	}

	customModel := "custom-model"
	provider2 := NewOllamaProvider(WithModel(customModel))
	if provider2.ModelName() != customModel {
		t.Errorf("ModelName() = %s, want %s", provider2.ModelName(), customModel)
	}
}

func TestOllamaProvider_Dimensions(t *testing.T) {
	provider := NewOllamaProvider()
	if provider.Dimensions() != DefaultDimensions {
		t.Errorf("Dimensions() = %d, want %d", provider.Dimensions(), DefaultDimensions)
	}

	customDimensions := 768
	provider2 := NewOllamaProvider(WithDimensions(customDimensions))
	if provider2.Dimensions() != customDimensions {
		t.Errorf("Dimensions() = %d, want %d", provider2.Dimensions(), customDimensions)
	}
}

func TestFormatErrorBody(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple error message",
			input:    "error occurred",
			expected: "error occurred",
		},
		{
			name:     "empty body",
			input:    "",
			expected: "",
		},
		{
			name:     "json error",
			input:    `{"error": "not found"}`,
			expected: `{"error": "not found"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatErrorBody(strings.NewReader(tt.input))
			if result != tt.expected {
				t.Errorf("formatErrorBody() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestOllamaProvider_ImplementsProvider(t *testing.T) {
	// Compile-time check that OllamaProvider implements Provider interface
	var _ Provider = (*OllamaProvider)(nil)
}

// fakeOllama serves /api/tags and /api/embeddings. The embedding for a prompt
// is [len(prompt), 1, 0, ...] padded to dims.
func fakeOllama(t *testing.T, models []string, dims int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		var resp ollamaTagsResponse
		for _, m := range models {
			resp.Models = append(resp.Models, ollamaModel{Name: m})
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		vec := make([]float32, dims)
		if dims > 0 {
			vec[0] = float32(len(req.Prompt))
		}
		if dims > 1 {
			vec[1] = 1
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: vec})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaProvider_Embed(t *testing.T) {
	srv := fakeOllama(t, []string{"test-model"}, 4)
	provider := NewOllamaProvider(WithBaseURL(srv.URL+"/"), WithModel("test-model"), WithDimensions(4))

	emb, err := provider.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if emb.Dimensions() != 4 || emb.Vector[0] != 5 {
		t.Errorf("Embed() = %v", emb.Vector)
	}
}

func TestOllamaProvider_EmbedTruncatesLongText(t *testing.T) {
	srv := fakeOllama(t, []string{"test-model"}, 2)
	provider := NewOllamaProvider(WithBaseURL(srv.URL), WithDimensions(2))

	emb, err := provider.Embed(context.Background(), strings.Repeat("a", MaxEmbedChars+100))
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if emb.Vector[0] != MaxEmbedChars {
		t.Errorf("server saw %v bytes, want %d", emb.Vector[0], MaxEmbedChars)
	}
}

func TestOllamaProvider_EmbedDimensionMismatch(t *testing.T) {
	srv := fakeOllama(t, []string{"test-model"}, 3)
	provider := NewOllamaProvider(WithBaseURL(srv.URL), WithDimensions(4))

	if _, err := provider.Embed(context.Background(), "x"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestOllamaProvider_EmbedBatchPreservesOrder(t *testing.T) {
	srv := fakeOllama(t, []string{"test-model"}, 2)
	provider := NewOllamaProvider(WithBaseURL(srv.URL), WithDimensions(2))

	texts := []string{"a", "bbb", "cc"}
	embs, err := provider.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(embs) != len(texts) {
		t.Fatalf("got %d embeddings, want %d", len(embs), len(texts))
	}
	for i, text := range texts {
		if embs[i].Vector[0] != float32(len(text)) {
			t.Errorf("embedding %d = %v, want length of %q", i, embs[i].Vector, text)
		}
	}
}

func TestOllamaProvider_Check(t *testing.T) {
	t.Run("ok with implicit latest tag", func(t *testing.T) {
		srv := fakeOllama(t, []string{"nomic-embed-text:latest"}, 2)
		provider := NewOllamaProvider(WithBaseURL(srv.URL), WithModel("nomic-embed-text"), WithDimensions(2))
		if err := provider.Check(context.Background()); err != nil {
			t.Errorf("Check() error = %v", err)
		}
	})

	t.Run("model missing", func(t *testing.T) {
		srv := fakeOllama(t, []string{"other"}, 2)
		provider := NewOllamaProvider(WithBaseURL(srv.URL), WithModel("wanted"), WithDimensions(2))
		err := provider.Check(context.Background())
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("Check() error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("wrong dimensions", func(t *testing.T) {
		srv := fakeOllama(t, []string{DefaultModel}, 8)
		provider := NewOllamaProvider(WithBaseURL(srv.URL))
		err := provider.Check(context.Background())
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("Check() error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("server down", func(t *testing.T) {
		srv := fakeOllama(t, nil, 2)
		url := srv.URL
		srv.Close()
		provider := NewOllamaProvider(WithBaseURL(url), WithTimeout(time.Second))
		err := provider.Check(context.Background())
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("Check() error = %v, want ErrUnavailable", err)
		}
	})
}
