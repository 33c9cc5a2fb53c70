package assignment

import (
	"fmt"

	"github.com/shopspring/decimal"

	"price-testing/internal/experiment"
)

// AssignmentError reports variation or split arrays that cannot be bucketed.
type AssignmentError struct {
	Variations int
	Split      int
}

func (e *AssignmentError) Error() string {
	return fmt.Sprintf("cannot assign visitor: %d variations, %d split entries", e.Variations, e.Split)
}

// Assign picks the variation for visitorID by walking the cumulative traffic
// split. The result depends only on visitorID and the configuration.
func Assign(visitorID string, variations []experiment.Variation, split []float64) (experiment.Variation, error) {
	if len(variations) == 0 || len(split) == 0 || len(variations) != len(split) {
		return experiment.Variation{}, &AssignmentError{Variations: len(variations), Split: len(split)}
	}

	r := HashToUnit(visitorID)
	cumulative := 0.0
	for i, v := range variations {
		cumulative += split[i] / 100
		if r <= cumulative {
			return v, nil
		}
	}
	return variations[len(variations)-1], nil
}

// Result is what the storefront receives for a visitor.
type Result struct {
	TestID    string          `json:"testId"`
	Variation string          `json:"variation"`
	Price     decimal.Decimal `json:"price"`
	IsControl bool            `json:"isControl"`
	// Fallback is set when the visitor was served control instead of their bucket.
	Fallback bool `json:"-"`
}

// Resolve assigns a visitor within test. Assignment failures and buckets that
// land on a stopped variation are served the control price.
func Resolve(visitorID string, test *experiment.Test) Result {
	v, err := Assign(visitorID, test.Variations, test.TrafficSplit)
	if err == nil && !test.IsStopped(v.Label) {
		return Result{TestID: test.ID, Variation: v.Label, Price: v.Price, IsControl: v.IsControl}
	}

	control, ok := test.Control()
	if !ok {
		control = experiment.Variation{Label: "A"}
	}
	return Result{TestID: test.ID, Variation: control.Label, Price: control.Price, IsControl: true, Fallback: true}
}
