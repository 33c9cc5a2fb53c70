package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"price-testing/internal/app"
)

var (
	simulateTestID   string
	simulateSplit    []float64
	simulateVisitors int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Bucket synthetic visitors and print the traffic distribution",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateVisitors <= 0 {
			return errors.New("--visitors must be greater than zero")
		}
		if simulateTestID == "" && len(simulateSplit) < 2 {
			return errors.New("provide --test or a --split with at least two weights")
		}

		opts := app.SimulateOptions{
			TestID:   simulateTestID,
			Split:    simulateSplit,
			Visitors: simulateVisitors,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateTestID, "test", "", "Stored test to simulate")
	simulateCmd.Flags().Float64SliceVar(&simulateSplit, "split", []float64{50, 50}, "Traffic split in percent when no --test is given")
	simulateCmd.Flags().IntVar(&simulateVisitors, "visitors", 100000, "Number of synthetic visitors")
}
