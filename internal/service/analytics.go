package service

import (
	"context"
	"time"

	"price-testing/internal/analytics"
	"price-testing/internal/experiment"
	"price-testing/internal/stats"
)

// Analytics is the full report for one test over a date range.
type Analytics struct {
	Test experiment.Test `json:"-"`
	analytics.Report
	StatisticalAnalysis stats.Analysis       `json:"statisticalAnalysis"`
	WinnerAnalysis      stats.WinnerAnalysis `json:"winnerAnalysis"`
	DateRange           analytics.DateRange  `json:"dateRange"`
}

// Analytics aggregates a test's events in rangeKey and runs both the
// significance engine and the heuristic winner analysis on them.
func (s *Service) Analytics(ctx context.Context, testID, rangeKey string) (Analytics, error) {
	test, err := s.tests.GetTest(ctx, testID)
	if err != nil {
		return Analytics{}, err
	}

	now := s.now()
	window := analytics.ResolveRange(rangeKey, now)
	events, err := s.events.ListEvents(ctx, testID, window.Start, window.End)
	if err != nil {
		return Analytics{}, err
	}

	return Analyze(test, events, s.opts.Dedup, window, now), nil
}

// Analyze builds the report for events already loaded for test.
func Analyze(test experiment.Test, events []experiment.Event, dedup analytics.DedupKey, window analytics.DateRange, now time.Time) Analytics {
	report := analytics.BuildReport(events, &test, analytics.Options{Dedup: dedup}, now)

	controlLabel := ""
	if control, ok := test.Control(); ok {
		controlLabel = control.Label
	}

	return Analytics{
		Test:                test,
		Report:              report,
		StatisticalAnalysis: stats.CalculateSignificance(report.VariationPerformance, controlLabel),
		WinnerAnalysis:      stats.AnalyzeWinner(report.VariationPerformance, test.SelectedGoal, test.Status, now.Sub(test.CreatedAt)),
		DateRange:           window,
	}
}

// activeSince is the start of the event window that counts for automation.
func activeSince(test experiment.Test) time.Time {
	if test.StartedAt != nil {
		return *test.StartedAt
	}
	return test.CreatedAt
}
