package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/matsen/paperqa/internal/rag"
	"github.com/matsen/paperqa/internal/reference"
	"github.com/matsen/paperqa/internal/semantic"
	"github.com/spf13/cobra"
)

var searchLimit int

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum results (default top_k)")
}

// SearchResponse is the response for the search command.
type SearchResponse struct {
	Query   string       `json:"query"`
	Results []rag.Source `json:"results"`
	Total   int          `json:"total"`
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the papers most similar to a query",
	Long: `Find the papers most similar to a query without calling the answer model.

Useful for checking what context a question would retrieve.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	query := strings.Join(args, " ")
	limit := searchLimit
	if limit <= 0 {
		limit = cfg.TopK
	}

	idx := mustLoadIndex()
	provider := newProvider()
	mustCheckProvider(ctx, provider)

	hits, err := semantic.NewRetriever(provider, idx).Retrieve(ctx, query, limit)
	if err != nil {
		exitWithError(exitCodeFor(err), "search: %v", err)
	}
	results := rag.SourcesFromHits(hits)

	if humanOutput {
		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%d. [%.3f] %s\n", i+1, r.Score, truncateString(r.Title, SearchTitleMaxLen))
			fmt.Printf("   %s\n\n", reference.ShortAuthors(r.Authors, 3))
		}
		return nil
	}
	return outputJSON(SearchResponse{Query: query, Results: results, Total: len(results)})
}
