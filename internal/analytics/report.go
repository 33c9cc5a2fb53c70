package analytics

import (
	"time"

	"price-testing/internal/experiment"
)

// RecentEventLimit caps the event tail attached to a report.
const RecentEventLimit = 100

// Report is the event rollup for one test over a date range.
type Report struct {
	VariationPerformance []VariationPerformance `json:"variationPerformance"`
	KPIs                 KPIs                   `json:"kpis"`
	ChartData            []DayPoint             `json:"chartData"`
	RecentEvents         []experiment.Event     `json:"events"`
}

// BuildReport aggregates events, which must be ordered by timestamp, into a
// Report. The chart always covers the SeriesDays days ending at now.
func BuildReport(events []experiment.Event, test *experiment.Test, opts Options, now time.Time) Report {
	perf := Aggregate(events, test, opts)

	tail := events
	if len(tail) > RecentEventLimit {
		tail = tail[len(tail)-RecentEventLimit:]
	}
	recent := make([]experiment.Event, len(tail))
	copy(recent, tail)

	return Report{
		VariationPerformance: perf,
		KPIs:                 Summarize(perf),
		ChartData:            DailySeries(events, test.Variations, now),
		RecentEvents:         recent,
	}
}

// Find returns the performance row for label.
func Find(perf []VariationPerformance, label string) (VariationPerformance, bool) {
	for _, p := range perf {
		if p.Variation == label {
			return p, true
		}
	}
	return VariationPerformance{}, false
}
