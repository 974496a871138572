package cli

import (
	"github.com/spf13/cobra"

	"ratewatch/internal/app"
)

var rulesJSON bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the rules loaded from alerting.rules_file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rules(app.RulesOptions{JSON: rulesJSON})
	},
}

func init() {
	rulesCmd.Flags().BoolVar(&rulesJSON, "json", false, "Print JSON instead of a table")
}
