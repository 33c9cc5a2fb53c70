package experiment

import (
	"time"

	"github.com/shopspring/decimal"
)

// AutomationSettings holds the automation rules attached to a test.
type AutomationSettings struct {
	Enabled bool   `json:"enabled"`
	Rules   []Rule `json:"rules"`
}

// Rule pairs a condition with an action. Exactly one payload field of
// Condition and Action is populated, selected by its Type.
type Rule struct {
	ID        string    `json:"id"`
	Condition Condition `json:"condition"`
	Action    Action    `json:"action"`
	Target    string    `json:"target,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConditionType enumerates rule trigger kinds.
type ConditionType string

const (
	ConditionPerformanceThreshold    ConditionType = "performance_threshold"
	ConditionStatisticalSignificance ConditionType = "statistical_significance"
	ConditionTimeBased               ConditionType = "time_based"
	ConditionTrafficVolume           ConditionType = "traffic_volume"
)

// Condition is a tagged union over trigger kinds.
type Condition struct {
	Type         ConditionType          `json:"type"`
	Performance  *PerformanceThreshold  `json:"performanceThreshold,omitempty"`
	Significance *SignificanceThreshold `json:"statisticalSignificance,omitempty"`
	Time         *TimeCondition         `json:"timeBased,omitempty"`
	Traffic      *TrafficVolume         `json:"trafficVolume,omitempty"`
}

// PerformanceThreshold compares a variation metric against a value.
type PerformanceThreshold struct {
	Variation string  `json:"variation"`
	Metric    string  `json:"metric"`
	Operator  string  `json:"operator"`
	Value     float64 `json:"value"`
}

// SignificanceThreshold requires a minimum confidence and absolute lift.
type SignificanceThreshold struct {
	Variation     string  `json:"variation"`
	MinConfidence float64 `json:"minConfidence"`
	MinLift       float64 `json:"minLift"`
}

// TimeCondition checks elapsed time since the test started.
type TimeCondition struct {
	Window   TimeWindow `json:"timeWindow"`
	Operator string     `json:"operator"`
}

// TimeWindow is a length of time expressed in a named unit.
type TimeWindow struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Duration converts the window; unknown units count as days.
func (w TimeWindow) Duration() time.Duration {
	unit := 24 * time.Hour
	switch w.Unit {
	case "minutes":
		unit = time.Minute
	case "hours":
		unit = time.Hour
	case "weeks":
		unit = 7 * 24 * time.Hour
	}
	return time.Duration(w.Value * float64(unit))
}

// TrafficVolume requires a visitor floor on a variation.
type TrafficVolume struct {
	Variation   string `json:"variation"`
	MinVisitors int    `json:"minVisitors"`
}

// ActionType enumerates rule effects.
type ActionType string

const (
	ActionAdjustPrice      ActionType = "adjust_price"
	ActionStopVariation    ActionType = "stop_variation"
	ActionRebalanceTraffic ActionType = "rebalance_traffic"
	ActionExtendTest       ActionType = "extend_test"
)

// Action is a tagged union over rule effects.
type Action struct {
	Type          ActionType        `json:"type"`
	AdjustPrice   *AdjustPrice      `json:"adjustPrice,omitempty"`
	StopVariation *StopVariation    `json:"stopVariation,omitempty"`
	Rebalance     *RebalanceTraffic `json:"rebalanceTraffic,omitempty"`
	Extend        *ExtendTest       `json:"extendTest,omitempty"`
}

// AdjustPrice changes the price of one variation.
type AdjustPrice struct {
	Variation       string          `json:"variation"`
	AdjustmentType  string          `json:"adjustmentType"`
	AdjustmentValue decimal.Decimal `json:"adjustmentValue"`
	Rounding        string          `json:"rounding"`
}

// StopVariation removes a variation from further traffic.
type StopVariation struct {
	Variation string `json:"variation"`
	Reason    string `json:"reason"`
}

// RebalanceTraffic rewrites the traffic split.
type RebalanceTraffic struct {
	Strategy    string    `json:"strategy"`
	WinnerBonus float64   `json:"winnerBonus,omitempty"`
	MinTraffic  float64   `json:"minTraffic,omitempty"`
	CustomSplit []float64 `json:"customSplit,omitempty"`
}

// ExtendTest lengthens a running test.
type ExtendTest struct {
	ExtensionDays int    `json:"extensionDays"`
	Reason        string `json:"reason"`
}
