package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the tender query API",
		Long: `Starts the HTTP query API. When crawler.schedule (or --schedule) holds a
cron expression, crawls also run on that schedule in the same process.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			return appInstance.Serve(cmd.Context())
		}),
	}
	cmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	cmd.Flags().String("schedule", "", `cron schedule for recurring crawls, e.g. "@every 1h"`)
	return cmd
}
