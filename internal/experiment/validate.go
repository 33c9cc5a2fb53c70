package experiment

import (
	"fmt"
	"math"
)

const (
	// SplitTolerance is the allowed deviation of a traffic split sum from 100.
	SplitTolerance = 0.1

	MinVariations = 2
	MaxVariations = 5
)

// ConfigurationError reports a test configuration that must be fixed before
// the test may leave Draft.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid test configuration: %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateSplit checks a traffic split against the number of variations.
func ValidateSplit(split []float64, variations int) error {
	if len(split) != variations {
		return configErr("trafficSplit", "has %d entries for %d variations", len(split), variations)
	}
	total := 0.0
	for i, pct := range split {
		if pct < 0 || math.IsNaN(pct) {
			return configErr("trafficSplit", "entry %d is negative", i)
		}
		total += pct
	}
	if math.Abs(total-100) > SplitTolerance {
		return configErr("trafficSplit", "sums to %.2f, want 100", total)
	}
	return nil
}

// Validate checks the structural invariants of a test.
func (t *Test) Validate() error {
	n := len(t.Variations)
	if n < MinVariations || n > MaxVariations {
		return configErr("variations", "need %d-%d variations, got %d", MinVariations, MaxVariations, n)
	}

	seen := make(map[string]struct{}, n)
	controls := 0
	for i, v := range t.Variations {
		if len(v.Label) != 1 || v.Label[0] < 'A' || v.Label[0] > 'E' {
			return configErr("variations", "entry %d has invalid label %q", i, v.Label)
		}
		if _, dup := seen[v.Label]; dup {
			return configErr("variations", "duplicate label %q", v.Label)
		}
		seen[v.Label] = struct{}{}
		if v.IsControl {
			controls++
		}
	}
	if controls != 1 {
		return configErr("variations", "exactly one control required, got %d", controls)
	}

	return ValidateSplit(t.TrafficSplit, n)
}

// ValidateForLaunch adds the checks required before a test leaves Draft.
func (t *Test) ValidateForLaunch() error {
	if err := t.Validate(); err != nil {
		return err
	}
	for _, v := range t.Variations {
		if !v.Price.IsPositive() {
			return configErr("variations", "variation %s price must be positive", v.Label)
		}
		for product, p := range v.Prices {
			if !p.IsPositive() {
				return configErr("variations", "variation %s price for product %s must be positive", v.Label, product)
			}
		}
	}
	return nil
}
