package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/matsen/paperqa/internal/semantic"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexInfoCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect the index",
}

// IndexInfoResult is the response for the index info command.
type IndexInfoResult struct {
	Status         string             `json:"status"`
	IndexDir       string             `json:"index_dir"`
	Metadata       *semantic.Metadata `json:"metadata,omitempty"`
	IndexSizeBytes int64              `json:"index_size_bytes"`
	Mismatch       string             `json:"mismatch,omitempty"`
	Recommendation string             `json:"recommendation,omitempty"`
}

var indexInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show index metadata and whether it matches the configuration",
	RunE:  runIndexInfo,
}

func runIndexInfo(cmd *cobra.Command, args []string) error {
	meta, err := semantic.ReadMetadata(cfg.IndexDir)
	if errors.Is(err, semantic.ErrIndexNotFound) {
		result := IndexInfoResult{
			Status:         "missing",
			IndexDir:       cfg.IndexDir,
			Recommendation: "Run 'paperqa ingest' to create the index.",
		}
		if humanOutput {
			fmt.Printf("No index in %s\n\n%s\n", cfg.IndexDir, result.Recommendation)
			return nil
		}
		return outputJSON(result)
	}
	if err != nil {
		exitWithError(exitCodeFor(err), "reading index: %v", err)
	}

	result := IndexInfoResult{Status: "ok", IndexDir: cfg.IndexDir, Metadata: meta}
	if size, err := semantic.IndexSize(cfg.IndexDir); err == nil {
		result.IndexSizeBytes = size
	}

	if err := meta.Validate(cfg.EmbeddingModel, cfg.EmbeddingDimensions, cfg.SimilarityMetric); err != nil {
		result.Status = "mismatch"
		result.Mismatch = err.Error()
		result.Recommendation = "Run 'paperqa ingest' to rebuild the index with the current settings."
	}

	if humanOutput {
		fmt.Printf("Index: %s\n", cfg.IndexDir)
		fmt.Printf("  Status:     %s\n", result.Status)
		fmt.Printf("  Model:      %s (%d dimensions, %s)\n", meta.ModelName, meta.Dimensions, meta.Metric)
		fmt.Printf("  Papers:     %d\n", meta.PaperCount)
		fmt.Printf("  Chunks:     %d\n", meta.ChunkCount)
		fmt.Printf("  Skipped:    %d rows\n", meta.SkippedCount)
		fmt.Printf("  Built:      %s in %s\n", meta.CreatedAt.Local().Format(time.DateTime),
			formatDuration(time.Duration(meta.BuildDurationMs)*time.Millisecond))
		fmt.Printf("  Size:       %s\n", formatBytes(result.IndexSizeBytes))
		for _, s := range meta.Sources {
			fmt.Printf("  Source:     %s\n", s)
		}
		if result.Mismatch != "" {
			fmt.Printf("\n%s\n%s\n", result.Mismatch, result.Recommendation)
		}
		return nil
	}
	return outputJSON(result)
}
