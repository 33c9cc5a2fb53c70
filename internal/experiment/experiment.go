package experiment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a price test.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusRunning   Status = "Running"
	StatusPaused    Status = "Paused"
	StatusStopped   Status = "Stopped"
	StatusCompleted Status = "Completed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped
}

// Goal selects the metric a test optimises.
type Goal string

const (
	GoalRevenuePerVisitor Goal = "revenue_per_visitor"
	GoalConversionRate    Goal = "conversion_rate"
	GoalAverageOrderValue Goal = "average_order_value"
	GoalAddToCartRate     Goal = "add_to_cart_rate"
)

// DurationUnit is the unit of Test.Duration.
type DurationUnit string

const (
	UnitDays  DurationUnit = "days"
	UnitWeeks DurationUnit = "weeks"
)

// DefaultDurationDays applies when a test has no duration configured.
const DefaultDurationDays = 7

// Variation is one price point under test.
type Variation struct {
	Label     string                     `json:"label"`
	Price     decimal.Decimal            `json:"price"`
	Prices    map[string]decimal.Decimal `json:"prices,omitempty"`
	IsControl bool                       `json:"isControl"`
}

// Targeting restricts which visitors are eligible for a test.
type Targeting struct {
	DeviceType     string   `json:"deviceType"`
	VisitorType    string   `json:"visitorType"`
	TrafficSources []string `json:"trafficSources"`
	Countries      []string `json:"countries"`
}

// Test is a pricing experiment snapshot. Values are treated as immutable by the
// analysis packages; use Clone before mutating.
type Test struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	ProductID         string             `json:"productId"`
	Status            Status             `json:"status"`
	Variations        []Variation        `json:"variations"`
	TrafficSplit      []float64          `json:"trafficSplit"`
	Targeting         Targeting          `json:"targeting"`
	SelectedGoal      Goal               `json:"selectedGoal"`
	StoppedVariations []string           `json:"stoppedVariations"`
	Automation        AutomationSettings `json:"automationSettings"`
	Duration          int                `json:"duration"`
	DurationUnit      DurationUnit       `json:"durationUnit"`
	CreatedAt         time.Time          `json:"createdAt"`
	StartedAt         *time.Time         `json:"startedAt,omitempty"`
	CompletedAt       *time.Time         `json:"completedAt,omitempty"`
	Version           int64              `json:"version"`
}

// Control returns the control variation, if any.
func (t *Test) Control() (Variation, bool) {
	for _, v := range t.Variations {
		if v.IsControl {
			return v, true
		}
	}
	return Variation{}, false
}

// Variation looks up a variation by label.
func (t *Test) Variation(label string) (Variation, int, bool) {
	for i, v := range t.Variations {
		if v.Label == label {
			return v, i, true
		}
	}
	return Variation{}, -1, false
}

// IsStopped reports whether label was removed from traffic.
func (t *Test) IsStopped(label string) bool {
	for _, s := range t.StoppedVariations {
		if s == label {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate.
func (t Test) Clone() Test {
	out := t
	out.Variations = make([]Variation, len(t.Variations))
	for i, v := range t.Variations {
		cp := v
		if v.Prices != nil {
			cp.Prices = make(map[string]decimal.Decimal, len(v.Prices))
			for k, p := range v.Prices {
				cp.Prices[k] = p
			}
		}
		out.Variations[i] = cp
	}
	out.TrafficSplit = append([]float64(nil), t.TrafficSplit...)
	out.StoppedVariations = append([]string(nil), t.StoppedVariations...)
	out.Targeting.TrafficSources = append([]string(nil), t.Targeting.TrafficSources...)
	out.Targeting.Countries = append([]string(nil), t.Targeting.Countries...)
	out.Automation.Rules = append([]Rule(nil), t.Automation.Rules...)
	if t.StartedAt != nil {
		started := *t.StartedAt
		out.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

// EventType enumerates tracked visitor actions.
type EventType string

const (
	EventPageView  EventType = "page_view"
	EventAddToCart EventType = "add_to_cart"
	EventPurchase  EventType = "purchase"
)

// Valid reports whether the event type is known.
func (e EventType) Valid() bool {
	switch e {
	case EventPageView, EventAddToCart, EventPurchase:
		return true
	}
	return false
}

// Event is an immutable fact about a visitor action.
type Event struct {
	ID           int64     `json:"id"`
	Type         EventType `json:"type"`
	TestID       string    `json:"testId"`
	Variation    string    `json:"variation"`
	TS           time.Time `json:"ts"`
	RevenueCents *int64    `json:"revenueCents,omitempty"`
	VisitorID    string    `json:"visitorId,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	Path         string    `json:"path,omitempty"`
	ProductID    string    `json:"productId,omitempty"`
	VariantID    string    `json:"variantId,omitempty"`
	Qty          *int      `json:"qty,omitempty"`
	Referrer     string    `json:"referrer,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
}

// Revenue returns the purchase amount in minor units, zero when absent.
func (e Event) Revenue() int64 {
	if e.RevenueCents == nil {
		return 0
	}
	return *e.RevenueCents
}
