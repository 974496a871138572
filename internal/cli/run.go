package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the rate feed, store samples and evaluate alert rules until interrupted",
	Long: `Starts the poll loop (feed → store every poller.interval), the alert loop
(latest sample → rules every alerting.interval) and, when report.cron is set,
the min/max digest. SIGINT or SIGTERM stops all loops.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}
