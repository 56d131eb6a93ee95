// Package llm talks to a local Ollama server for text generation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultURL is the default Ollama API endpoint.
	DefaultURL = "http://localhost:11434"

	// DefaultModel is the default generation model.
	DefaultModel = "llama3.2"

	// DefaultTimeout bounds a single non-streaming request. Streams rely on
	// the caller's context instead.
	DefaultTimeout = 5 * time.Minute

	apiPathGenerate = "/api/generate"
)

var (
	// ErrStreamTruncated is returned when the server closes a stream before
	// sending its final record.
	ErrStreamTruncated = errors.New("model stream ended before completion")
	// ErrEmptyResponse is returned when the model generates no text.
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// ModelError is an error reported by the model server.
type ModelError struct {
	Status  int // HTTP status, 0 for errors inside a stream
	Message string
}

func (e *ModelError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ollama returned status %d: %s", e.Status, e.Message)
	}
	return "ollama error: " + e.Message
}

// Request is a single generation call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int // Maps to num_predict; 0 leaves the server default
}

// OllamaClient generates text with the Ollama API. It holds no per-call state
// and is safe for concurrent use.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// Option configures an OllamaClient.
type Option func(*OllamaClient)

// WithBaseURL sets the Ollama API base URL.
func WithBaseURL(url string) Option {
	return func(c *OllamaClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel sets the generation model.
func WithModel(model string) Option {
	return func(c *OllamaClient) {
		c.model = model
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *OllamaClient) {
		c.client = client
	}
}

// NewOllamaClient creates a new generation client.
func NewOllamaClient(opts ...Option) *OllamaClient {
	c := &OllamaClient{
		baseURL: DefaultURL,
		model:   DefaultModel,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the generation model name.
func (c *OllamaClient) Model() string {
	return c.model
}

// Generate runs a request to completion and returns the full text.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if result.Error != "" {
		return "", &ModelError{Message: result.Error}
	}

	text := strings.TrimSpace(result.Response)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Stream starts a streaming request. The returned stream must be closed.
// Cancelling ctx aborts the request and closes the connection.
func (c *OllamaClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return newStream(resp.Body), nil
}

func (c *OllamaClient) post(ctx context.Context, r Request, stream bool) (*http.Response, error) {
	reqBody := generateRequest{
		Model:  c.model,
		Prompt: r.Prompt,
		System: r.System,
		Stream: stream,
		Options: generateOptions{
			Temperature: r.Temperature,
			NumPredict:  r.MaxTokens,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPathGenerate, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, &ModelError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	return resp, nil
}

// errorMessage extracts Ollama's {"error": ...} body, falling back to the raw text.
func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return fmt.Sprintf("(failed to read response body: %v)", err)
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// generateResponse is one record of /api/generate output. Streaming responses
// are a sequence of these, one per line.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}
