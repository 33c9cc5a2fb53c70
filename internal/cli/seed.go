package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"price-testing/internal/app"
)

var (
	seedFrom        string
	seedTo          string
	seedVisitors    int
	seedCartRate    float64
	seedConversions []float64
	seedRandom      uint64
	seedDryRun      bool
	seedWorkers     int
)

var seedCmd = &cobra.Command{
	Use:   "seed <test-id>",
	Short: "Generate synthetic storefront events for a test",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedFrom == "" || seedTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse(time.RFC3339, seedFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse(time.RFC3339, seedTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.SeedOptions{
			TestID:         args[0],
			From:           from,
			To:             to,
			VisitorsPerDay: seedVisitors,
			AddToCartRate:  seedCartRate,
			ConversionRate: seedConversions,
			Seed:           seedRandom,
			DryRun:         seedDryRun,
			Workers:        seedWorkers,
		}

		return getApp().Seed(cmd.Context(), opts)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	seedCmd.Flags().StringVar(&seedTo, "to", "", "End timestamp (RFC3339, exclusive)")
	seedCmd.Flags().IntVar(&seedVisitors, "visitors", 500, "Visitors per day")
	seedCmd.Flags().Float64Var(&seedCartRate, "cart-rate", 0.12, "Probability a visitor adds to cart")
	seedCmd.Flags().Float64SliceVar(&seedConversions, "conversion-rate", nil, "Purchase probability per variation, in variation order")
	seedCmd.Flags().Uint64Var(&seedRandom, "seed", 1, "Random seed")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Generate without writing to storage")
	seedCmd.Flags().IntVar(&seedWorkers, "workers", 2, "Number of concurrent workers")
}
