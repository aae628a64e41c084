package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docforge/docforge/internal/app"
	"github.com/docforge/docforge/internal/search"
)

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	var projectID, documentID string
	var limit int
	var vectorWeight, keywordWeight float64
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid search over indexed documents",
		Long: `Search fuses vector similarity and keyword relevance into a single
ranked result list. Weights control the blend; a keyword weight of zero
is pure vector search.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := app.New(cfg, slog.Default(), app.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			opts := search.Options{
				ProjectID:     projectID,
				DocumentID:    documentID,
				Query:         strings.Join(args, " "),
				MaxResults:    cfg.Search.MaxResults,
				VectorWeight:  cfg.Search.VectorWeight,
				KeywordWeight: cfg.Search.KeywordWeight,
				CandidateK:    cfg.Search.CandidateK,
			}
			if limit > 0 {
				opts.MaxResults = limit
			}
			if cmd.Flags().Changed("vector-weight") {
				opts.VectorWeight = vectorWeight
			}
			if cmd.Flags().Changed("keyword-weight") {
				opts.KeywordWeight = keywordWeight
			}

			results, err := a.Fuser.Search(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				_, err := fmt.Fprintln(out, "No results.")
				return err
			}
			for i, r := range results {
				fmt.Fprintf(out, "%2d. [%.3f] %s  page %d  chunk %d\n",
					i+1, r.Score, r.DocumentID, r.PageNumber, r.ChunkIndex)
				fmt.Fprintf(out, "    %s\n", snippet(r.Content, 160))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "default", "Project to search in")
	cmd.Flags().StringVar(&documentID, "document", "", "Restrict results to one document ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (default: config value)")
	cmd.Flags().Float64Var(&vectorWeight, "vector-weight", 0, "Weight for vector similarity")
	cmd.Flags().Float64Var(&keywordWeight, "keyword-weight", 0, "Weight for keyword relevance")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

// snippet flattens whitespace and truncates content for terminal
// display.
func snippet(content string, max int) string {
	flat := strings.Join(strings.Fields(content), " ")
	if len(flat) <= max {
		return flat
	}
	return flat[:max] + "…"
}
