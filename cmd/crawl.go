package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/globaltender/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl session
// and prints its summary.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl session",
		Long: `Walks the configured listing pages, extracts up to the configured quota
of tender records and writes them to the store. Pass --quota 0 to crawl until
pagination stops on its own.`,
		RunE: withApp(runCrawlCommand),
	}
	cmd.Flags().Int("quota", 0, "maximum records to collect (overrides crawler.quota)")
	cmd.Flags().StringSlice("seed", nil, "listing URL to start from; repeatable (overrides crawler.start_urls)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, appInstance App) error {
	summary, err := appInstance.Crawl(cmd.Context())
	if summary.RunID != "" {
		renderSummary(cmd.OutOrStdout(), summary)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}

	appInstance.Logger().Info("crawl command finished",
		zap.String("run_id", summary.RunID),
		zap.Int("records_written", summary.Written()),
	)
	return nil
}

func renderSummary(w io.Writer, s crawler.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Crawl " + s.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Pages fetched", s.PagesFetched},
		{"Pages failed", s.PagesFailed},
		{"Robots denied", s.RobotsDenied},
		{"Rows seen", s.RowsSeen},
		{"Rows skipped", s.RowsSkipped},
		{"Field warnings", s.FieldWarnings},
		{"Inserted", s.Inserted},
		{"Updated", s.Updated},
		{"Unchanged", s.Unchanged},
		{"Write failures", s.WriteFailures},
		{"Quota reached", s.QuotaReached},
		{"Canceled", s.Canceled},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	})
	t.Render()
}
