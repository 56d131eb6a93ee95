// Package config handles service configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/matsen/paperqa/internal/importer"
	"github.com/matsen/paperqa/internal/semantic"
)

// Config holds every tunable setting. Values are layered: defaults, then the
// YAML file, then .env, then the process environment.
type Config struct {
	EmbeddingModel      string `yaml:"embedding_model" json:"embedding_model"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions" json:"embedding_dimensions"`
	OllamaModel         string `yaml:"ollama_model" json:"ollama_model"`
	OllamaURL           string `yaml:"ollama_url" json:"ollama_url"`

	IndexDir string `yaml:"index_dir" json:"index_dir"`
	DataDir  string `yaml:"data_dir" json:"data_dir"`

	TopK             int     `yaml:"top_k" json:"top_k"`
	PromptMaxLength  int     `yaml:"prompt_max_length" json:"prompt_max_length"` // Runes
	MaxTokens        int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature      float64 `yaml:"temperature" json:"temperature"`
	SimilarityMetric string  `yaml:"similarity_metric" json:"similarity_metric"`

	ChunkMaxChars   int              `yaml:"chunk_max_chars" json:"chunk_max_chars"` // 0 keeps one chunk per paper
	ChunkOverlap    int              `yaml:"chunk_overlap" json:"chunk_overlap"`
	DuplicateTitles string           `yaml:"duplicate_titles" json:"duplicate_titles"`
	Columns         importer.Columns `yaml:"columns" json:"columns"`

	ListenAddr     string        `yaml:"listen_addr" json:"listen_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	HistoryDB      string        `yaml:"history_db" json:"history_db"` // Empty disables history
	RateLimit      float64       `yaml:"rate_limit" json:"rate_limit"` // Requests per second
	RateBurst      int           `yaml:"rate_burst" json:"rate_burst"`
	Guardrails     bool          `yaml:"guardrails" json:"guardrails"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		EmbeddingModel:      "all-minilm:l6-v2",
		EmbeddingDimensions: 384,
		OllamaModel:         "llama3.2",
		OllamaURL:           "http://localhost:11434",
		IndexDir:            "storage/index",
		DataDir:             "data",
		TopK:                5,
		PromptMaxLength:     12000,
		MaxTokens:           700,
		Temperature:         0.2,
		SimilarityMetric:    semantic.MetricCosine,
		ChunkMaxChars:       0,
		ChunkOverlap:        150,
		DuplicateTitles:     importer.DuplicateLast,
		Columns:             importer.DefaultColumns(),
		ListenAddr:          ":8000",
		RequestTimeout:      2 * time.Minute,
		HistoryDB:           "storage/history.db",
		RateLimit:           5,
		RateBurst:           10,
		Guardrails:          true,
	}
}

// ValidMetrics lists the supported similarity_metric values.
var ValidMetrics = []string{semantic.MetricCosine}

// ValidDuplicatePolicies lists the supported duplicate_titles values.
var ValidDuplicatePolicies = []string{importer.DuplicateLast, importer.DuplicateError}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var problems []string

	if c.TopK <= 0 {
		problems = append(problems, fmt.Sprintf("top_k must be positive, got %d", c.TopK))
	}
	if c.PromptMaxLength <= 0 {
		problems = append(problems, fmt.Sprintf("prompt_max_length must be positive, got %d", c.PromptMaxLength))
	}
	if c.EmbeddingDimensions <= 0 {
		problems = append(problems, fmt.Sprintf("embedding_dimensions must be positive, got %d", c.EmbeddingDimensions))
	}
	if c.MaxTokens <= 0 {
		problems = append(problems, fmt.Sprintf("max_tokens must be positive, got %d", c.MaxTokens))
	}
	if c.ChunkMaxChars < 0 || c.ChunkOverlap < 0 {
		problems = append(problems, "chunk_max_chars and chunk_overlap must not be negative")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if !contains(ValidMetrics, c.SimilarityMetric) {
		problems = append(problems, fmt.Sprintf("invalid similarity_metric: %s (valid: %v)", c.SimilarityMetric, ValidMetrics))
	}
	if !contains(ValidDuplicatePolicies, c.DuplicateTitles) {
		problems = append(problems, fmt.Sprintf("invalid duplicate_titles: %s (valid: %v)", c.DuplicateTitles, ValidDuplicatePolicies))
	}
	if c.Columns.Title == "" || c.Columns.Authors == "" || c.Columns.Abstract == "" {
		problems = append(problems, "columns.title, columns.authors and columns.abstract must be set")
	}
	if c.EmbeddingModel == "" || c.OllamaModel == "" {
		problems = append(problems, "embedding_model and ollama_model must be set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, valid := range values {
		if v == valid {
			return true
		}
	}
	return false
}
