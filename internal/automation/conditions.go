package automation

import (
	"math"

	"price-testing/internal/analytics"
	"price-testing/internal/experiment"
)

// Metrics a performance threshold can compare.
const (
	MetricConversionRate    = "conversion_rate"
	MetricRevenuePerVisitor = "revenue_per_visitor"
	MetricTotalRevenue      = "total_revenue"
	MetricVisitors          = "visitors"
)

// Comparison operators.
const (
	OpGreaterThan        = "greater_than"
	OpLessThan           = "less_than"
	OpEquals             = "equals"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThanOrEqual    = "less_than_or_equal"
	OpAfter              = "after"
	OpBefore             = "before"
)

// equalsTolerance is the absolute difference under which equals holds.
const equalsTolerance = 0.01

func (ev *evaluator) conditionMet(rule experiment.Rule, test *experiment.Test) (bool, error) {
	c := rule.Condition
	switch c.Type {
	case experiment.ConditionPerformanceThreshold:
		if c.Performance == nil {
			return false, missingPayload(rule.ID, "performanceThreshold")
		}
		p, ok := analytics.Find(ev.perf, c.Performance.Variation)
		if !ok {
			return false, nil
		}
		return Compare(MetricValue(p, c.Performance.Metric), c.Performance.Operator, c.Performance.Value), nil

	case experiment.ConditionStatisticalSignificance:
		if c.Significance == nil {
			return false, missingPayload(rule.ID, "statisticalSignificance")
		}
		res, ok := ev.significance().Result(c.Significance.Variation)
		if !ok {
			return false, nil
		}
		return res.Confidence >= c.Significance.MinConfidence && math.Abs(res.Lift) >= c.Significance.MinLift, nil

	case experiment.ConditionTimeBased:
		if c.Time == nil {
			return false, missingPayload(rule.ID, "timeBased")
		}
		start := test.CreatedAt
		if test.StartedAt != nil {
			start = *test.StartedAt
		}
		elapsed := ev.now.Sub(start)
		window := c.Time.Window.Duration()
		switch c.Time.Operator {
		case OpAfter:
			return elapsed >= window, nil
		case OpBefore:
			return elapsed <= window, nil
		default:
			return false, nil
		}

	case experiment.ConditionTrafficVolume:
		if c.Traffic == nil {
			return false, missingPayload(rule.ID, "trafficVolume")
		}
		p, ok := analytics.Find(ev.perf, c.Traffic.Variation)
		return ok && p.Visitors >= c.Traffic.MinVisitors, nil

	default:
		return false, &UnknownRuleError{RuleID: rule.ID, Kind: "condition", Type: string(c.Type)}
	}
}

// MetricValue reads a named metric from p; unknown metrics read as 0.
func MetricValue(p analytics.VariationPerformance, metric string) float64 {
	switch metric {
	case MetricConversionRate:
		return p.ConversionRate
	case MetricRevenuePerVisitor:
		return p.RevenuePerVisitor
	case MetricTotalRevenue:
		return p.Revenue
	case MetricVisitors:
		return float64(p.Visitors)
	default:
		return 0
	}
}

// Compare applies operator to actual and expected. Unknown operators never
// hold.
func Compare(actual float64, operator string, expected float64) bool {
	switch operator {
	case OpGreaterThan:
		return actual > expected
	case OpLessThan:
		return actual < expected
	case OpEquals:
		return math.Abs(actual-expected) < equalsTolerance
	case OpGreaterThanOrEqual:
		return actual >= expected
	case OpLessThanOrEqual:
		return actual <= expected
	default:
		return false
	}
}
