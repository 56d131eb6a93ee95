package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeGenerate serves /api/generate, writing lines for streaming requests
// and a single record otherwise. It records the last decoded request.
func fakeGenerate(t *testing.T, lines []string, got *generateRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiPathGenerate {
			http.NotFound(w, r)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got != nil {
			*got = req
		}

		if !req.Stream {
			var full strings.Builder
			for _, l := range lines {
				var rec generateResponse
				json.Unmarshal([]byte(l), &rec)
				full.WriteString(rec.Response)
			}
			json.NewEncoder(w).Encode(generateResponse{Response: full.String(), Done: true})
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			fmt.Fprintln(w, l)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tokenLines(tokens ...string) []string {
	var lines []string
	for _, tok := range tokens {
		b, _ := json.Marshal(generateResponse{Response: tok})
		lines = append(lines, string(b))
	}
	return append(lines, `{"response":"","done":true}`)
}

func TestNewOllamaClient_Defaults(t *testing.T) {
	c := NewOllamaClient()
	if c.baseURL != DefaultURL || c.Model() != DefaultModel {
		t.Errorf("unexpected defaults: %s %s", c.baseURL, c.Model())
	}

	c = NewOllamaClient(WithBaseURL("http://example:1234/"), WithModel("mistral"))
	if c.baseURL != "http://example:1234" || c.Model() != "mistral" {
		t.Errorf("options not applied: %s %s", c.baseURL, c.Model())
	}
}

func TestGenerate(t *testing.T) {
	var got generateRequest
	srv := fakeGenerate(t, tokenLines("Graph ", "networks."), &got)
	c := NewOllamaClient(WithBaseURL(srv.URL), WithModel("test-llm"))

	text, err := c.Generate(context.Background(), Request{
		System:      "be helpful",
		Prompt:      "What is a GNN?",
		Temperature: 0.2,
		MaxTokens:   700,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "Graph networks." {
		t.Errorf("text = %q", text)
	}
	if got.Model != "test-llm" || got.System != "be helpful" || got.Prompt != "What is a GNN?" || got.Stream {
		t.Errorf("unexpected request: %+v", got)
	}
	if got.Options.Temperature != 0.2 || got.Options.NumPredict != 700 {
		t.Errorf("unexpected options: %+v", got.Options)
	}
}

func TestGenerate_Errors(t *testing.T) {
	t.Run("empty response", func(t *testing.T) {
		srv := fakeGenerate(t, tokenLines("  "), nil)
		_, err := NewOllamaClient(WithBaseURL(srv.URL)).Generate(context.Background(), Request{Prompt: "q"})
		if !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("expected ErrEmptyResponse, got %v", err)
		}
	})

	t.Run("model not found", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"model \"llama3.2\" not found, try pulling it first"}`)
		}))
		defer srv.Close()

		_, err := NewOllamaClient(WithBaseURL(srv.URL)).Generate(context.Background(), Request{Prompt: "q"})
		var me *ModelError
		if !errors.As(err, &me) {
			t.Fatalf("expected *ModelError, got %v", err)
		}
		if me.Status != http.StatusNotFound || !strings.Contains(me.Message, "not found") {
			t.Errorf("unexpected ModelError: %+v", me)
		}
	})

	t.Run("server down", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		if _, err := NewOllamaClient(WithBaseURL(url)).Generate(context.Background(), Request{Prompt: "q"}); err == nil {
			t.Error("expected connection error")
		}
	})
}

func TestStream_DeliversTokensInOrder(t *testing.T) {
	var got generateRequest
	srv := fakeGenerate(t, tokenLines("The ", "paper ", "explores ", "ML."), &got)
	c := NewOllamaClient(WithBaseURL(srv.URL))

	s, err := c.Stream(context.Background(), Request{Prompt: "q"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer s.Close()

	var tokens []string
	for s.Next() {
		tokens = append(tokens, s.Text())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if strings.Join(tokens, "|") != "The |paper |explores |ML." {
		t.Errorf("tokens = %q", tokens)
	}
	if s.Received() != "The paper explores ML." {
		t.Errorf("Received() = %q", s.Received())
	}
	if !got.Stream {
		t.Error("request should ask for streaming")
	}

	// Terminal state is reported once and then stays put.
	for range 3 {
		if s.Next() {
			t.Fatal("Next returned true after completion")
		}
	}
	if s.Err() != nil {
		t.Errorf("Err changed after completion: %v", s.Err())
	}
}

func TestStream_TextOnDoneRecord(t *testing.T) {
	srv := fakeGenerate(t, []string{`{"response":"a"}`, `{"response":"b","done":true}`}, nil)
	s, err := NewOllamaClient(WithBaseURL(srv.URL)).Stream(context.Background(), Request{Prompt: "q"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var tokens []string
	for s.Next() {
		tokens = append(tokens, s.Text())
	}
	if s.Err() != nil || strings.Join(tokens, "") != "ab" {
		t.Errorf("tokens = %q, err = %v", tokens, s.Err())
	}
}

func TestStream_Failures(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		check func(error) bool
	}{
		{
			name:  "error record",
			lines: []string{`{"response":"partial"}`, `{"error":"out of memory"}`},
			check: func(err error) bool {
				var me *ModelError
				return errors.As(err, &me) && me.Message == "out of memory"
			},
		},
		{
			name:  "eof before done",
			lines: []string{`{"response":"partial"}`},
			check: func(err error) bool { return errors.Is(err, ErrStreamTruncated) },
		},
		{
			name:  "malformed record",
			lines: []string{`{"response":`},
			check: func(err error) bool { return err != nil && strings.Contains(err.Error(), "decoding") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeGenerate(t, tt.lines, nil)
			s, err := NewOllamaClient(WithBaseURL(srv.URL)).Stream(context.Background(), Request{Prompt: "q"})
			if err != nil {
				t.Fatal(err)
			}
			defer s.Close()

			for s.Next() {
			}
			if !tt.check(s.Err()) {
				t.Errorf("unexpected terminal error: %v", s.Err())
			}
			if s.Next() {
				t.Error("Next returned true after failure")
			}
		})
	}
}

func TestStream_CancelClosesConnection(t *testing.T) {
	closed := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		fmt.Fprintln(w, `{"response":"first"}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		once.Do(func() { close(closed) })
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewOllamaClient(WithBaseURL(srv.URL)).Stream(ctx, Request{Prompt: "q"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if !s.Next() || s.Text() != "first" {
		t.Fatalf("expected first token, got %q (err %v)", s.Text(), s.Err())
	}
	cancel()

	if s.Next() {
		t.Error("Next should fail after cancellation")
	}
	if s.Err() == nil {
		t.Error("expected an error after cancellation")
	}

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not observe the closed connection")
	}
}

func TestStream_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(WithBaseURL(srv.URL)).Stream(context.Background(), Request{Prompt: "q"})
	var me *ModelError
	if !errors.As(err, &me) || me.Status != http.StatusInternalServerError {
		t.Errorf("expected 500 ModelError, got %v", err)
	}
}
