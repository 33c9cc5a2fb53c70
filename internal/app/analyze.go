package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"price-testing/internal/automation"
	"price-testing/internal/service"
)

// Analyze prints the significance and winner analysis of one test.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	store, closeStore, err := a.requireStore(ctx, "analyze")
	if err != nil {
		return err
	}
	defer closeStore()

	rangeKey := opts.Range
	if rangeKey == "" {
		rangeKey = a.Config.Analytics.DefaultRange
	}

	svc := a.newService(store, nil, nil)
	report, err := svc.Analytics(ctx, opts.TestID, rangeKey)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printAnalysis(os.Stdout, report)
}

func printAnalysis(out io.Writer, report service.Analytics) error {
	fmt.Fprintf(out, "Test %s (%s) %s\n", report.Test.ID, report.Test.Status, report.DateRange)
	fmt.Fprintln(out)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Variation\tPrice\tTraffic%\tVisitors\tAdd to cart\tConversions\tConv%\tRevenue\tRPV\tLift%\tp-value\tSignificant")
	for _, p := range report.VariationPerformance {
		lift, pValue, significant := "-", "-", "control"
		if !p.IsControl {
			significant = "no"
			if r, ok := report.StatisticalAnalysis.Result(p.Variation); ok {
				lift = fmt.Sprintf("%+.2f", r.Lift)
				pValue = fmt.Sprintf("%.4f", r.PValue)
				if r.IsSignificant {
					significant = "yes"
				}
			}
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%.1f\t%d\t%d\t%d\t%.2f\t%.2f\t%.2f\t%s\t%s\t%s\n",
			p.Variation,
			formatDecimal(p.Price, 2),
			p.TrafficPercentage,
			p.Visitors,
			p.AddToCart,
			p.Conversions,
			p.ConversionRate,
			p.Revenue,
			p.RevenuePerVisitor,
			lift,
			pValue,
			significant,
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	sa := report.StatisticalAnalysis
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Method: %s  Confidence: %.2f%%  p-value: %.4f  Power: %.2f\n", sa.Method, sa.Confidence, sa.PValue, sa.OverallPower)
	if sa.HasWinner() {
		fmt.Fprintf(out, "Winner: %s (%+.2f%% lift)\n", sa.Winner, sa.Lift)
	}
	fmt.Fprintf(out, "Recommendation: %s\n", sa.Recommendation)

	wa := report.WinnerAnalysis
	if wa.Winner != nil {
		fmt.Fprintf(out, "Goal leader: %s (%s, score %.1f, %+.2f%% vs control)\n", wa.Winner.Variation, wa.Winner.Status, wa.ConfidenceLevel, wa.Winner.Improvement)
	}
	if wa.Reason != "" {
		fmt.Fprintf(out, "Winner check: %s\n", wa.Reason)
	}
	return nil
}

// Automate evaluates one test's automation rules immediately.
func (a *App) Automate(ctx context.Context, testID string) error {
	store, closeStore, err := a.requireStore(ctx, "run automation")
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store, nil, a.newNotifier())
	out, err := svc.RunAutomation(ctx, testID)
	if err != nil {
		return err
	}
	return printOutcome(os.Stdout, out)
}

func printOutcome(out io.Writer, outcome automation.Outcome) error {
	if len(outcome.Results) == 0 {
		fmt.Fprintln(out, "no automation rules evaluated")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rule\tExecuted\tAction\tDetail")
	for _, r := range outcome.Results {
		detail := r.Reason
		if r.Err != nil {
			detail = r.Err.Error()
		} else if r.Error != "" {
			detail = r.Error
		}
		fmt.Fprintf(writer, "%s\t%t\t%s\t%s\n", r.RuleID, r.Executed, r.Action, sanitizeInline(detail))
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d executed, %d failed, %d actions logged\n", outcome.Executed(), outcome.Failed(), len(outcome.Logs))
	return nil
}
