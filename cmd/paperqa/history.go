package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matsen/paperqa/internal/history"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyExportCmd)
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum sessions to list (0 for all)")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored chat sessions",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Write a session transcript to stdout",
	Long: `Write a session transcript to stdout as plain text.

With JSON output (the default) the messages and their sources are printed
instead of the text transcript.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistoryExport,
}

// mustOpenHistory opens the history store, exits when history is disabled or unreadable.
func mustOpenHistory() *history.Store {
	if cfg.HistoryDB == "" {
		exitWithError(ExitConfigError, "history is disabled (history_db is empty)")
	}
	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		exitWithError(ExitError, "opening history: %v", err)
	}
	return store
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store := mustOpenHistory()
	defer store.Close()

	sessions, err := store.Sessions(context.Background(), historyLimit)
	if err != nil {
		exitWithError(ExitError, "listing sessions: %v", err)
	}

	if humanOutput {
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  (%d messages)\n", s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.Messages)
			fmt.Printf("    %s\n", s.Title)
		}
		return nil
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	return outputJSON(sessions)
}

// ExportResponse is the JSON form of a session.
type ExportResponse struct {
	Session  *history.Session  `json:"session"`
	Messages []history.Message `json:"messages"`
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	id := args[0]
	if !history.ValidSessionID(id) {
		exitWithError(ExitError, "invalid session ID %q", id)
	}

	store := mustOpenHistory()
	defer store.Close()
	ctx := context.Background()

	if humanOutput {
		text, err := store.Transcript(ctx, id)
		if errors.Is(err, history.ErrSessionNotFound) {
			exitWithError(ExitError, "session %s not found", id)
		}
		if err != nil {
			exitWithError(ExitError, "exporting session: %v", err)
		}
		fmt.Print(text)
		return nil
	}

	sess, err := store.Session(ctx, id)
	if errors.Is(err, history.ErrSessionNotFound) {
		exitWithError(ExitError, "session %s not found", id)
	}
	if err != nil {
		exitWithError(ExitError, "exporting session: %v", err)
	}
	msgs, err := store.Messages(ctx, id)
	if err != nil {
		exitWithError(ExitError, "exporting session: %v", err)
	}
	return outputJSON(ExportResponse{Session: sess, Messages: msgs})
}
