package cli

import (
	"github.com/spf13/cobra"

	"price-testing/internal/app"
)

var (
	exportRange   string
	exportPNGPath string
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export <test-id>",
	Short: "Export a test report as CSV and/or PNG chart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			TestID:  args[0],
			Range:   exportRange,
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRange, "range", "", "Date range: 1d, 7d, 30d or 90d (defaults to config)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
}
