// Package main provides the paperqa CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/matsen/paperqa/internal/config"
	"github.com/matsen/paperqa/internal/embedding"
	"github.com/matsen/paperqa/internal/history"
	"github.com/matsen/paperqa/internal/llm"
	"github.com/matsen/paperqa/internal/prompt"
	"github.com/matsen/paperqa/internal/rag"
	"github.com/matsen/paperqa/internal/semantic"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	configPath  string
	envFile     string
	verbose     bool
	logFormat   string

	cfg      *config.Config
	logger   *slog.Logger
	logLevel = new(slog.LevelVar)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paperqa",
	Short: "Ask questions about a collection of research papers",
	Long: `paperqa answers natural-language questions about research papers.

Paper metadata (title, authors, abstract) is ingested from CSV exports into a
local vector index. Questions are answered by a local Ollama model using the
most relevant abstracts as context, and every answer lists its sources.

Commands output JSON by default; use --human for readable output.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./paperqa.yml, then the global config)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "Dotenv file with KEY=value overrides")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.Version = Version
}

// setup configures logging and loads the configuration for every command.
func setup(cmd *cobra.Command, args []string) error {
	if verbose {
		logLevel.Set(slog.LevelDebug)
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	switch logFormat {
	case "json":
		logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	case "text":
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", logFormat)
	}
	slog.SetDefault(logger)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	loaded, err := config.Load(config.ResolvePath(configPath), envFile)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	if err := loaded.Validate(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	cfg = loaded
	return nil
}

// silenceInfoLogs raises the log level to errors unless --verbose was given.
func silenceInfoLogs() {
	if !verbose {
		logLevel.Set(slog.LevelError)
	}
}

// newProvider creates the embedding provider described by the configuration.
func newProvider() *embedding.OllamaProvider {
	return embedding.NewOllamaProvider(
		embedding.WithBaseURL(cfg.OllamaURL),
		embedding.WithModel(cfg.EmbeddingModel),
		embedding.WithDimensions(cfg.EmbeddingDimensions),
	)
}

// newGenerator creates the answer model client.
func newGenerator() *llm.OllamaClient {
	return llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaModel),
	)
}

// mustCheckProvider verifies Ollama serves the embedding model, exits on error.
func mustCheckProvider(ctx context.Context, provider *embedding.OllamaProvider) {
	if err := provider.Check(ctx); err != nil {
		exitWithError(ExitModelUnavailable, "%v\n\nStart Ollama with 'ollama serve' and run 'ollama pull %s'.",
			err, provider.ModelName())
	}
}

// loadIndex loads the index and checks it against the configuration.
func loadIndex() (*semantic.Index, error) {
	idx, err := semantic.Load(cfg.IndexDir)
	if err != nil {
		return nil, err
	}
	if err := idx.Validate(cfg.EmbeddingModel, cfg.EmbeddingDimensions, cfg.SimilarityMetric); err != nil {
		return nil, err
	}
	return idx, nil
}

// mustLoadIndex loads the index, exits on error.
func mustLoadIndex() *semantic.Index {
	idx, err := loadIndex()
	if err != nil {
		if errors.Is(err, semantic.ErrIndexNotFound) {
			exitWithError(ExitConfigError, "index not found in %s\n\nRun 'paperqa ingest' to create it.", cfg.IndexDir)
		}
		exitWithError(exitCodeFor(err), "loading index: %v", err)
	}
	return idx
}

// newPipeline wires the answer pipeline around a loaded index.
func newPipeline(provider embedding.Provider, snapshot *rag.Snapshot) *rag.Pipeline {
	return rag.New(provider, snapshot, prompt.NewAssembler(cfg.PromptMaxLength), newGenerator(), rag.Options{
		TopK:        cfg.TopK,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.RequestTimeout,
		Guardrails:  cfg.Guardrails,
		Logger:      logger,
		OnStage: func(question string, stage rag.Stage) {
			logger.Debug("query stage", "stage", stage, "question", truncateString(question, 60))
		},
	})
}

// openHistory opens the history store, or returns nil when history is disabled.
// Failures are logged and disable history rather than aborting.
func openHistory() *history.Store {
	if strings.TrimSpace(cfg.HistoryDB) == "" {
		return nil
	}
	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		logger.Warn("history disabled", "path", cfg.HistoryDB, "error", err)
		return nil
	}
	return store
}
