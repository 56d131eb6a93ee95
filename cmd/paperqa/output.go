package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matsen/paperqa/internal/embedding"
	"github.com/matsen/paperqa/internal/importer"
	"github.com/matsen/paperqa/internal/ingest"
	"github.com/matsen/paperqa/internal/llm"
	"github.com/matsen/paperqa/internal/rag"
	"github.com/matsen/paperqa/internal/reference"
	"github.com/matsen/paperqa/internal/semantic"
)

const (
	// Title truncation lengths by context
	SearchTitleMaxLen = 70
	SourceTitleMaxLen = 80

	progressBarWidth       = 30
	progressLineClearWidth = 50
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		enc := json.NewEncoder(os.Stderr)
		enc.Encode(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// exitCodeFor maps an error to the exit code for its class.
func exitCodeFor(err error) int {
	var (
		ioErr       *importer.IOError
		missingCols *importer.MissingColumnsError
		dupTitle    *importer.DuplicateTitleError
		mismatch    *semantic.MetadataMismatchError
		modelErr    *llm.ModelError
		queryErr    *rag.QueryFailedError
	)
	switch {
	case errors.As(err, &queryErr):
		return ExitQueryFailed
	case errors.Is(err, embedding.ErrUnavailable), errors.As(err, &modelErr):
		return ExitModelUnavailable
	case errors.As(err, &ioErr), errors.As(err, &missingCols), errors.As(err, &dupTitle),
		errors.Is(err, ingest.ErrEmptyInput):
		return ExitDataError
	case errors.As(err, &mismatch), errors.Is(err, semantic.ErrIndexNotFound),
		errors.Is(err, semantic.ErrUnsupportedVersion), errors.Is(err, semantic.ErrCorruptIndex):
		return ExitConfigError
	default:
		return ExitError
	}
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

// printSources prints numbered answer sources.
func printSources(sources []rag.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for i, s := range sources {
		fmt.Printf("  [%d] %s\n", i+1, truncateString(s.Title, SourceTitleMaxLen))
		fmt.Printf("      %s (score %.3f)\n", reference.ShortAuthors(s.Authors, 3), s.Score)
	}
}

// truncateString truncates a string to maxLen runes, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen-3]) + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// formatBytes formats bytes in a human-readable way.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// printProgress draws an embedding progress bar on stderr.
func printProgress(current, total int) {
	if total == 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	bar := buildProgressBar(current, total, progressBarWidth)
	fmt.Fprintf(os.Stderr, "\r[%s] %d/%d (%.0f%%)", bar, current, total, pct)
}

func buildProgressBar(current, total, width int) string {
	filled := current * width / total
	return strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)
}
