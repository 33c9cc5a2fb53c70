package stats

import (
	"fmt"
	"math"
	"time"

	"price-testing/internal/analytics"
	"price-testing/internal/experiment"
)

// WinnerStatus classifies a variation in the heuristic winner analysis.
type WinnerStatus string

const (
	StatusWinner         WinnerStatus = "Winner"
	StatusSignificant    WinnerStatus = "Significant"
	StatusNotSignificant WinnerStatus = "Not Significant"
)

type winnerThresholds struct {
	confidence  float64
	improvement float64
	sample      int
}

var (
	runningWinner      = winnerThresholds{confidence: 85, improvement: 3, sample: 30}
	runningSignificant = winnerThresholds{confidence: 75, improvement: 1, sample: 20}
	stoppedWinner      = winnerThresholds{confidence: 70, improvement: 1, sample: 15}
	stoppedSignificant = winnerThresholds{confidence: 60, improvement: 0.5, sample: 10}
)

func (t winnerThresholds) met(confidence, improvement float64, sample int) bool {
	return confidence >= t.confidence && improvement > t.improvement && sample >= t.sample
}

// ScoredVariation is one row of the heuristic winner analysis.
type ScoredVariation struct {
	analytics.VariationPerformance
	Metric      float64      `json:"metric"`
	Improvement float64      `json:"improvement"`
	Confidence  float64      `json:"confidence"`
	Status      WinnerStatus `json:"status"`
}

// WinnerAnalysis is a heuristic score used to confirm a winner by hand. Its
// confidence is not a statistical confidence; see CalculateSignificance for
// the hypothesis test.
type WinnerAnalysis struct {
	Winner           *ScoredVariation  `json:"winner,omitempty"`
	ConfidenceLevel  float64           `json:"confidenceLevel"`
	TotalVisitors    int               `json:"totalVisitors"`
	TestDurationDays int               `json:"testDuration"`
	BestMetric       float64           `json:"bestConversionRate"`
	ControlRate      float64           `json:"controlConversionRate"`
	RevenueImpact    float64           `json:"revenueImpact"`
	Variations       []ScoredVariation `json:"variations"`
	Reason           string            `json:"reason"`
}

// GoalMetric returns the value of goal for p. Revenue per visitor is the
// default goal.
func GoalMetric(p analytics.VariationPerformance, goal experiment.Goal) float64 {
	switch goal {
	case experiment.GoalConversionRate:
		return p.ConversionRate
	case experiment.GoalAverageOrderValue:
		return p.AverageOrderValue()
	case experiment.GoalAddToCartRate:
		return p.AddToCartRate()
	default:
		return p.RevenuePerVisitor
	}
}

// AnalyzeWinner scores every variation against control on the test goal.
// elapsed is the time since the test was created.
func AnalyzeWinner(perf []analytics.VariationPerformance, goal experiment.Goal, status experiment.Status, elapsed time.Duration) WinnerAnalysis {
	var (
		control analytics.VariationPerformance
		found   bool
	)
	for _, p := range perf {
		if p.IsControl {
			control, found = p, true
			break
		}
	}
	if !found {
		return WinnerAnalysis{Reason: "No control variant found. Please ensure one variation is marked as control."}
	}

	days := int(elapsed.Hours() / 24)
	winnerTier, significantTier := runningWinner, runningSignificant
	if status == experiment.StatusStopped {
		winnerTier, significantTier = stoppedWinner, stoppedSignificant
	}

	controlMetric := GoalMetric(control, goal)
	denom := controlMetric
	if denom == 0 {
		denom = 1
	}

	out := WinnerAnalysis{
		TestDurationDays: days,
		ControlRate:      control.ConversionRate,
		BestMetric:       math.Inf(-1),
		Variations:       make([]ScoredVariation, 0, len(perf)),
	}

	for _, p := range perf {
		out.TotalVisitors += p.Visitors
		metric := GoalMetric(p, goal)
		improvement := (metric - controlMetric) / denom * 100

		bonus := 0.0
		if days > 7 {
			bonus = 10
		}
		confidence := clamp(math.Sqrt(float64(p.Visitors))*0.5+math.Abs(improvement)*0.3+bonus, 60, 95)

		st := StatusNotSignificant
		switch {
		case winnerTier.met(confidence, improvement, p.Visitors):
			st = StatusWinner
		case significantTier.met(confidence, improvement, p.Visitors):
			st = StatusSignificant
		}

		out.Variations = append(out.Variations, ScoredVariation{
			VariationPerformance: p,
			Metric:               metric,
			Improvement:          improvement,
			Confidence:           confidence,
			Status:               st,
		})
		out.BestMetric = math.Max(out.BestMetric, metric)
	}

	var winner, best *ScoredVariation
	for i := range out.Variations {
		v := &out.Variations[i]
		if winner == nil && v.Status == StatusWinner {
			winner = v
		}
		if best == nil || v.ConversionRate > best.ConversionRate {
			best = v
		}
	}

	recommended := best
	if winner != nil {
		recommended = winner
	}
	picked := *recommended
	out.Winner = &picked
	out.ConfidenceLevel = picked.Confidence
	out.RevenueImpact = (picked.Revenue - control.Revenue) * float64(out.TotalVisitors) / 1000

	if winner != nil {
		out.Reason = fmt.Sprintf("Winner: %s shows %.1f%% improvement with %s%% confidence",
			picked.Variation, picked.Improvement, formatRounded(picked.Confidence, 0))
	} else {
		out.Reason = fmt.Sprintf("Best Performer: %s shows %.1f%% improvement with %s%% confidence (not statistically significant)",
			picked.Variation, picked.Improvement, formatRounded(picked.Confidence, 0))
	}
	return out
}
