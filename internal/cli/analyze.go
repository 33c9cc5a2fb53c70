package cli

import (
	"github.com/spf13/cobra"

	"price-testing/internal/app"
)

var (
	analyzeRange string
	analyzeJSON  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <test-id>",
	Short: "Print significance and winner analysis for a test",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AnalyzeOptions{
			TestID: args[0],
			Range:  analyzeRange,
			JSON:   analyzeJSON,
		}
		return getApp().Analyze(cmd.Context(), opts)
	},
}

var automateCmd = &cobra.Command{
	Use:   "automate <test-id>",
	Short: "Evaluate a test's automation rules once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Automate(cmd.Context(), args[0])
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeRange, "range", "", "Date range: 1d, 7d, 30d or 90d (defaults to config)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the full report as JSON")
}
