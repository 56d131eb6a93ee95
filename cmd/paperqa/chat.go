package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/matsen/paperqa/internal/history"
	"github.com/matsen/paperqa/internal/rag"
	"github.com/matsen/paperqa/internal/tui"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question-answering session in the terminal",
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	provider := newProvider()
	mustCheckProvider(ctx, provider)
	pipeline := newPipeline(provider, rag.NewSnapshot(mustLoadIndex()))

	// The chat owns the terminal; routine logs would garble it.
	silenceInfoLogs()

	var recorder tui.Recorder
	if store := openHistory(); store != nil {
		defer store.Close()
		recorder = store
	}

	sessionID := history.NewSessionID()
	if err := tui.Run(ctx, pipeline, recorder, sessionID); err != nil {
		exitWithError(ExitError, "chat: %v", err)
	}
	if recorder != nil {
		fmt.Fprintf(os.Stderr, "Session %s saved. Export it with 'paperqa history export %s'.\n", sessionID, sessionID)
	}
	return nil
}
