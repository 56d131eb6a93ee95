package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/matsen/paperqa/internal/ingest"
	"github.com/matsen/paperqa/internal/semantic"
	"github.com/spf13/cobra"
)

var noProgress bool

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Suppress progress output")
}

// IngestResult is the response for the ingest command.
type IngestResult struct {
	Status          string   `json:"status"`
	Files           []string `json:"files"`
	PapersIndexed   int      `json:"papers_indexed"`
	ChunksIndexed   int      `json:"chunks_indexed"`
	RowsSkipped     int      `json:"rows_skipped"`
	Duplicates      int      `json:"duplicates"`
	DurationSeconds float64  `json:"duration_seconds"`
	Model           string   `json:"model"`
	IndexDir        string   `json:"index_dir"`
	IndexSizeBytes  int64    `json:"index_size_bytes"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Build the index from CSV files",
	Long: `Build the index from CSV exports of paper metadata.

Each path may be a CSV file or a directory, which is searched recursively for
*.csv files. With no paths the configured data_dir is used. Every CSV needs
Title, Authors and Abstract columns (names configurable under 'columns');
rows missing a value are skipped with a warning.

The previous index is replaced only after the new one is completely written.
Requires Ollama to be running with the embedding model available.`,
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths := args
	if len(paths) == 0 {
		paths = []string{cfg.DataDir}
	}

	provider := newProvider()
	mustCheckProvider(ctx, provider)

	opts := ingest.Options{
		Paths:           paths,
		Provider:        provider,
		Columns:         cfg.Columns,
		DuplicateTitles: cfg.DuplicateTitles,
		ChunkMaxChars:   cfg.ChunkMaxChars,
		ChunkOverlap:    cfg.ChunkOverlap,
		Logger:          logger,
	}
	showProgress := humanOutput && !noProgress
	if showProgress {
		opts.Progress = semantic.ProgressFunc(printProgress)
		fmt.Fprintf(os.Stderr, "Embedding papers...\n")
	}

	idx, stats, err := ingest.Run(ctx, opts)
	if showProgress {
		fmt.Fprintf(os.Stderr, "\r%*s\r", progressLineClearWidth, "")
	}
	if err != nil {
		exitWithError(exitCodeFor(err), "ingest: %v", err)
	}

	if err := idx.Save(cfg.IndexDir); err != nil {
		exitWithError(ExitError, "saving index: %v", err)
	}

	// Non-fatal if it fails
	size, err := semantic.IndexSize(cfg.IndexDir)
	if err != nil {
		logger.Warn("could not determine index size", "error", err)
	}

	if humanOutput {
		fmt.Printf("Ingest complete:\n")
		fmt.Printf("  Files read:     %d\n", len(stats.Files))
		fmt.Printf("  Papers indexed: %d\n", stats.Papers)
		fmt.Printf("  Chunks indexed: %d\n", stats.Chunks)
		fmt.Printf("  Rows skipped:   %d\n", stats.RowsSkipped)
		if stats.Duplicates > 0 {
			fmt.Printf("  Duplicates:     %d (later rows kept)\n", stats.Duplicates)
		}
		fmt.Printf("  Time elapsed:   %s\n", formatDuration(stats.Duration))
		fmt.Printf("  Index:          %s (%s)\n", cfg.IndexDir, formatBytes(size))
		fmt.Printf("  Model:          %s\n", provider.ModelName())
		return nil
	}

	return outputJSON(IngestResult{
		Status:          "complete",
		Files:           stats.Files,
		PapersIndexed:   stats.Papers,
		ChunksIndexed:   stats.Chunks,
		RowsSkipped:     stats.RowsSkipped,
		Duplicates:      stats.Duplicates,
		DurationSeconds: stats.Duration.Seconds(),
		Model:           provider.ModelName(),
		IndexDir:        cfg.IndexDir,
		IndexSizeBytes:  size,
	})
}
