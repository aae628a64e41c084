package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/docforge/docforge/internal/store"
	"github.com/docforge/docforge/internal/telemetry"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show document and cleanup queue state",
		Long: `Status lists every document in the project with its processing state,
plus the pending cleanup queue. It reads the metadata store directly and
works while a serve process is running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			meta, err := store.Open(filepath.Join(cfg.Paths.DataDir, "docforge.db"))
			if err != nil {
				return err
			}
			defer func() { _ = meta.Close() }()

			ctx := cmd.Context()
			docs, err := meta.ListDocuments(ctx, projectID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(docs) == 0 {
				fmt.Fprintf(out, "No documents in project %q.\n", projectID)
			} else {
				tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "FILE\tSTATUS\tSTAGE\tPROGRESS\tPAGES\tCHUNKS\tERROR")
				for _, d := range docs {
					errCol := d.ErrorCode
					if errCol == "" {
						errCol = "-"
					}
					stage := string(d.Stage)
					if stage == "" {
						stage = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%d\t%d\t%s\n",
						d.FileName, d.Status, stage, d.Progress*100, d.PageCount, d.ChunkCount, errCol)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}

			pending, exhausted, err := meta.CleanupCounts(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nCleanup queue: %d pending, %d exhausted\n", pending, exhausted)

			if exhausted > 0 {
				rows, err := meta.ListExhaustedCleanups(ctx)
				if err != nil {
					return err
				}
				for _, row := range rows {
					fmt.Fprintf(out, "  exhausted: %s (attempts %d, last error: %s)\n",
						row.FilePath, row.Attempts, row.LastError)
				}
			}

			return printSearchStats(out, meta)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "default", "Project to inspect")

	return cmd
}

func printSearchStats(out io.Writer, meta *store.Store) error {
	ms, err := telemetry.NewSQLiteMetricsStore(meta.DB())
	if err != nil {
		return err
	}

	today := time.Now().UTC().Format("2006-01-02")
	stats, err := ms.GetDayStats(today)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSearches today: %d (%d with no results)\n", stats.Searches, stats.ZeroResults)

	if stats.ZeroResults > 0 {
		queries, err := ms.GetZeroResultQueries(5)
		if err != nil {
			return err
		}
		for _, q := range queries {
			fmt.Fprintf(out, "  no results: %q\n", q)
		}
	}
	return nil
}
