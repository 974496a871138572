package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ratewatch/internal/app"
)

var (
	statsWindows []int
	statsJSON    bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print buy/sell min and max over rolling windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, w := range statsWindows {
			if w <= 0 {
				return fmt.Errorf("--window values must be positive, got %d", w)
			}
		}
		return getApp().Stats(cmd.Context(), app.StatsOptions{Windows: statsWindows, JSON: statsJSON})
	},
}

func init() {
	statsCmd.Flags().IntSliceVar(&statsWindows, "window", nil, "Window in days, repeatable (defaults to report.windows)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print JSON instead of a table")
}
