// Package ingest turns CSV exports of paper metadata into a semantic index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/matsen/paperqa/internal/embedding"
	"github.com/matsen/paperqa/internal/importer"
	"github.com/matsen/paperqa/internal/reference"
	"github.com/matsen/paperqa/internal/semantic"
)

// ErrEmptyInput is returned when the inputs contain no valid paper rows.
var ErrEmptyInput = errors.New("no valid paper records in input")

// Options configures a single ingestion run.
type Options struct {
	Paths    []string           // CSV files or directories of CSV files
	Provider embedding.Provider // Must match the provider used at query time

	Columns         importer.Columns
	DuplicateTitles string // importer.DuplicateLast or importer.DuplicateError

	// ChunkMaxChars splits abstracts longer than this at sentence boundaries.
	// Zero keeps one chunk per paper.
	ChunkMaxChars int
	ChunkOverlap  int

	Logger   *slog.Logger
	Progress semantic.ProgressReporter
}

// Stats summarizes an ingestion run.
type Stats struct {
	Files       []string              `json:"files"`
	Papers      int                   `json:"papers"`
	Chunks      int                   `json:"chunks"`
	RowsSkipped int                   `json:"rows_skipped"`
	Skipped     []importer.SkippedRow `json:"skipped,omitempty"`
	Duplicates  int                   `json:"duplicates"`
	Duration    time.Duration         `json:"duration"`
}

// Run reads every CSV under opts.Paths, embeds the resulting chunks and
// returns an unsaved index. It has no filesystem side effects; call
// Index.Save to persist the result. The same inputs and provider always
// yield the same chunk set in the same order.
func Run(ctx context.Context, opts Options) (*semantic.Index, *Stats, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Provider == nil {
		return nil, nil, fmt.Errorf("%w: no embedding provider", semantic.ErrInvalidArgument)
	}

	cols := opts.Columns
	if cols == (importer.Columns{}) {
		cols = importer.DefaultColumns()
	}
	dup := opts.DuplicateTitles
	if dup == "" {
		dup = importer.DuplicateLast
	}

	files, err := importer.ExpandPaths(opts.Paths)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("%w: no CSV files found in %v", ErrEmptyInput, opts.Paths)
	}

	res, err := importer.LoadFiles(files, cols, dup)
	if err != nil {
		return nil, nil, err
	}

	for _, s := range res.Skipped {
		logger.Warn("skipping row with missing fields",
			"file", s.File, "line", s.Line, "missing", s.Missing)
	}
	if res.Duplicates > 0 {
		logger.Info("replaced duplicate titles", "count", res.Duplicates)
	}
	if len(res.Records) == 0 {
		return nil, nil, fmt.Errorf("%w: %d files read, %d rows skipped", ErrEmptyInput, len(files), len(res.Skipped))
	}

	var chunks []reference.Chunk
	for _, p := range res.Records {
		chunks = append(chunks, reference.Chunks(p, opts.ChunkMaxChars, opts.ChunkOverlap, len(chunks))...)
	}
	logger.Debug("chunked papers", "papers", len(res.Records), "chunks", len(chunks))

	builder := semantic.NewBuilder(opts.Provider)
	if opts.Progress != nil {
		builder.SetProgressReporter(opts.Progress)
	}
	idx, _, err := builder.Build(ctx, chunks)
	if err != nil {
		return nil, nil, err
	}

	sources := make([]string, len(files))
	for i, f := range files {
		sources[i] = filepath.Base(f)
	}
	duration := time.Since(start)
	idx.Metadata.SkippedCount = len(res.Skipped)
	idx.Metadata.Sources = sources
	idx.Metadata.BuildDurationMs = duration.Milliseconds()

	stats := &Stats{
		Files:       files,
		Papers:      idx.Metadata.PaperCount,
		Chunks:      idx.Metadata.ChunkCount,
		RowsSkipped: len(res.Skipped),
		Skipped:     res.Skipped,
		Duplicates:  res.Duplicates,
		Duration:    duration,
	}
	logger.Info("ingestion complete",
		"files", len(files), "papers", stats.Papers, "chunks", stats.Chunks,
		"skipped", stats.RowsSkipped, "duration", duration)

	return idx, stats, nil
}
