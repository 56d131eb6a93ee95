package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/matsen/paperqa/internal/history"
	"github.com/matsen/paperqa/internal/rag"
	"github.com/spf13/cobra"
)

var askSession string

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askSession, "session", "", "Record the answer under this session ID")
}

// AskResponse is the response for the ask command.
type AskResponse struct {
	SessionID string       `json:"session_id,omitempty"`
	Question  string       `json:"question"`
	Answer    string       `json:"answer"`
	Sources   []rag.Source `json:"sources"`
	Model     string       `json:"model,omitempty"`
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question",
	Long: `Answer one question from the indexed papers.

With --human the answer streams to the terminal as it is generated and the
sources follow it; otherwise one JSON object is printed when it is complete.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	question := strings.Join(args, " ")
	if askSession != "" && !history.ValidSessionID(askSession) {
		exitWithError(ExitError, "invalid session ID %q", askSession)
	}

	provider := newProvider()
	mustCheckProvider(ctx, provider)
	pipeline := newPipeline(provider, rag.NewSnapshot(mustLoadIndex()))

	var res *rag.QueryResult
	if humanOutput {
		res = streamAnswer(ctx, pipeline, question)
	} else {
		var err error
		res, err = pipeline.Answer(ctx, question)
		if err != nil {
			exitWithError(exitCodeFor(err), "%v", err)
		}
	}

	if askSession != "" {
		if store := openHistory(); store != nil {
			if err := store.Record(ctx, askSession, res); err != nil {
				logger.Warn("recording history", "error", err)
			}
			store.Close()
		}
	}

	if humanOutput {
		printSources(res.Sources)
		return nil
	}
	return outputJSON(AskResponse{
		SessionID: askSession,
		Question:  res.Question,
		Answer:    res.Answer,
		Sources:   res.Sources,
		Model:     res.Model,
	})
}

// streamAnswer prints the answer to stdout as it arrives.
func streamAnswer(ctx context.Context, pipeline *rag.Pipeline, question string) *rag.QueryResult {
	stream, err := pipeline.Stream(ctx, question)
	if err != nil {
		exitWithError(exitCodeFor(err), "%v", err)
	}
	defer stream.Close()

	for stream.Next() {
		fmt.Print(stream.Text())
	}
	fmt.Println()
	if err := stream.Err(); err != nil {
		exitWithError(exitCodeFor(err), "%v", err)
	}
	return stream.Result()
}
