package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matsen/paperqa/internal/rag"
	"github.com/matsen/paperqa/internal/semantic"
	"github.com/matsen/paperqa/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var listenAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (default listen_addr)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web page and HTTP API",
	Long: `Serve the question page at / and the JSON API under /api.

Send SIGHUP to reload the index after running 'paperqa ingest'; questions
already in flight finish against the index they started with. SIGINT or
SIGTERM shut the server down gracefully.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := listenAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}

	provider := newProvider()
	mustCheckProvider(ctx, provider)

	idx, err := loadIndex()
	switch {
	case errors.Is(err, semantic.ErrIndexNotFound):
		logger.Warn("no index yet; questions fail until 'paperqa ingest' runs and the server gets SIGHUP", "index_dir", cfg.IndexDir)
	case err != nil:
		exitWithError(exitCodeFor(err), "loading index: %v", err)
	}
	snapshot := rag.NewSnapshot(idx)

	store := openHistory()
	if store != nil {
		defer store.Close()
	}

	srv := &http.Server{
		Addr: addr,
		Handler: server.New(server.Options{
			Pipeline:  newPipeline(provider, snapshot),
			History:   store,
			Logger:    logger,
			RateLimit: cfg.RateLimit,
			RateBurst: cfg.RateBurst,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnSignal(ctx, hup, snapshot)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "model", cfg.OllamaModel, "chunks", chunkCount(idx))
		if humanOutput {
			fmt.Fprintf(os.Stderr, "Serving on %s\n", addr)
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			exitWithError(ExitError, "server: %v", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// reloadOnSignal swaps in a freshly loaded index on every SIGHUP. A failed
// reload keeps the current index.
func reloadOnSignal(ctx context.Context, hup <-chan os.Signal, snapshot *rag.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			idx, err := loadIndex()
			if err != nil {
				logger.Error("index reload failed; keeping current index", "error", err)
				continue
			}
			snapshot.Swap(idx)
			logger.Info("index reloaded", "chunks", idx.Count(), "created_at", idx.Metadata.CreatedAt)
		}
	}
}

func chunkCount(idx *semantic.Index) int {
	if idx == nil {
		return 0
	}
	return idx.Count()
}
