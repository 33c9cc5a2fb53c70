package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"price-testing/internal/assignment"
	"price-testing/internal/experiment"
)

// Simulate buckets synthetic visitors into a stored test, or into an ad-hoc
// split, and prints the observed distribution.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Visitors <= 0 {
		return errors.New("visitors must be positive")
	}

	var test experiment.Test
	if opts.TestID != "" {
		store, closeStore, err := a.requireStore(ctx, "load test")
		if err != nil {
			return err
		}
		defer closeStore()

		test, err = store.GetTest(ctx, opts.TestID)
		if err != nil {
			return err
		}
	} else {
		var err error
		test, err = syntheticTest(opts.Split)
		if err != nil {
			return err
		}
	}

	counts := simulateAssignments(&test, opts.Visitors, func(i int) string {
		return "visitor_" + uuid.NewString()
	})
	return printDistribution(os.Stdout, &test, counts, opts.Visitors)
}

// syntheticTest builds a test labelled A, B, C... with the given split.
func syntheticTest(split []float64) (experiment.Test, error) {
	if len(split) < 2 {
		return experiment.Test{}, errors.New("split needs at least two weights")
	}
	test := experiment.Test{ID: "simulation", TrafficSplit: split}
	for i := range split {
		test.Variations = append(test.Variations, experiment.Variation{
			Label:     string(rune('A' + i)),
			Price:     decimal.NewFromInt(int64(10 + i)),
			IsControl: i == 0,
		})
	}
	if err := experiment.ValidateSplit(split, len(test.Variations)); err != nil {
		return experiment.Test{}, err
	}
	return test, nil
}

func simulateAssignments(test *experiment.Test, visitors int, id func(i int) string) map[string]int {
	counts := make(map[string]int, len(test.Variations))
	for i := 0; i < visitors; i++ {
		res := assignment.Resolve(id(i), test)
		counts[res.Variation]++
	}
	return counts
}

func printDistribution(out io.Writer, test *experiment.Test, counts map[string]int, visitors int) error {
	expected := make([]float64, len(test.Variations))
	stoppedShare := 0.0
	for i, v := range test.Variations {
		if i < len(test.TrafficSplit) {
			expected[i] = test.TrafficSplit[i]
		}
		if test.IsStopped(v.Label) && !v.IsControl {
			stoppedShare += expected[i]
			expected[i] = 0
		}
	}
	for i, v := range test.Variations {
		if v.IsControl {
			expected[i] += stoppedShare
		}
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Variation\tExpected%\tObserved%\tVisitors\tDrift")
	for i, v := range test.Variations {
		observed := float64(counts[v.Label]) / float64(visitors) * 100
		fmt.Fprintf(writer, "%s\t%.2f\t%.2f\t%d\t%+.2f\n", v.Label, expected[i], observed, counts[v.Label], observed-expected[i])
	}
	return writer.Flush()
}
