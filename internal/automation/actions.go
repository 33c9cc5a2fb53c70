package automation

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"price-testing/internal/experiment"
)

// Price adjustment kinds.
const (
	AdjustPercentage  = "percentage"
	AdjustFixedAmount = "fixed_amount"
	AdjustSetTo       = "set_to"
)

// Rebalancing strategies.
const (
	StrategyWinnerTakesMore = "winner_takes_more"
	StrategyEqualSplit      = "equal_split"
	StrategyCustom          = "custom"
)

// ErrSplitSum is returned when a rebalance would not sum to 100%.
var ErrSplitSum = errors.New("traffic split must sum to 100%")

var hundred = decimal.NewFromInt(100)

func (ev *evaluator) execute(rule experiment.Rule, test experiment.Test) (experiment.Test, map[string]any, bool, error) {
	a := rule.Action
	switch a.Type {
	case experiment.ActionAdjustPrice:
		if a.AdjustPrice == nil {
			return test, nil, false, missingPayload(rule.ID, "adjustPrice")
		}
		return adjustPrice(test, *a.AdjustPrice)
	case experiment.ActionStopVariation:
		if a.StopVariation == nil {
			return test, nil, false, missingPayload(rule.ID, "stopVariation")
		}
		return stopVariation(test, *a.StopVariation)
	case experiment.ActionRebalanceTraffic:
		if a.Rebalance == nil {
			return test, nil, false, missingPayload(rule.ID, "rebalanceTraffic")
		}
		return ev.rebalance(test, *a.Rebalance)
	case experiment.ActionExtendTest:
		if a.Extend == nil {
			return test, nil, false, missingPayload(rule.ID, "extendTest")
		}
		return extendTest(test, *a.Extend)
	default:
		return test, nil, false, &UnknownRuleError{RuleID: rule.ID, Kind: "action", Type: string(a.Type)}
	}
}

// AdjustedPrice computes the new price for an adjustment before rounding.
func AdjustedPrice(current decimal.Decimal, kind string, value decimal.Decimal) (decimal.Decimal, error) {
	switch kind {
	case AdjustPercentage:
		return current.Mul(decimal.NewFromInt(1).Add(value.Div(hundred))), nil
	case AdjustFixedAmount:
		return current.Add(value), nil
	case AdjustSetTo:
		return value, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown adjustment type %q", kind)
	}
}

func adjustPrice(test experiment.Test, p experiment.AdjustPrice) (experiment.Test, map[string]any, bool, error) {
	v, idx, ok := test.Variation(p.Variation)
	if !ok {
		return test, nil, false, fmt.Errorf("variation %s not found", p.Variation)
	}

	price, err := AdjustedPrice(v.Price, p.AdjustmentType, p.AdjustmentValue)
	if err != nil {
		return test, nil, false, err
	}
	price = ApplyRounding(price, p.Rounding)
	if !price.IsPositive() {
		return test, nil, false, fmt.Errorf("adjusted price %s for variation %s must be positive", price, p.Variation)
	}

	next := test.Clone()
	next.Variations[idx].Price = price
	details := map[string]any{
		"variation":       p.Variation,
		"oldPrice":        v.Price.String(),
		"newPrice":        price.String(),
		"adjustmentType":  p.AdjustmentType,
		"adjustmentValue": p.AdjustmentValue.String(),
	}
	return next, details, true, nil
}

func stopVariation(test experiment.Test, p experiment.StopVariation) (experiment.Test, map[string]any, bool, error) {
	if _, _, ok := test.Variation(p.Variation); !ok {
		return test, nil, false, fmt.Errorf("variation %s not found", p.Variation)
	}
	details := map[string]any{"variation": p.Variation, "reason": p.Reason}
	if test.IsStopped(p.Variation) {
		return test, details, false, nil
	}
	next := test.Clone()
	next.StoppedVariations = append(next.StoppedVariations, p.Variation)
	return next, details, true, nil
}

func (ev *evaluator) rebalance(test experiment.Test, p experiment.RebalanceTraffic) (experiment.Test, map[string]any, bool, error) {
	var split []float64
	switch p.Strategy {
	case StrategyWinnerTakesMore:
		split = WinnerTakesMoreSplit(test.Variations, ev.perfRates(test.Variations), p.WinnerBonus, p.MinTraffic)
	case StrategyEqualSplit:
		split = EqualSplit(len(test.Variations))
	case StrategyCustom:
		split = append([]float64(nil), p.CustomSplit...)
	default:
		return test, nil, false, fmt.Errorf("unknown rebalancing strategy %q", p.Strategy)
	}

	if err := experiment.ValidateSplit(split, len(test.Variations)); err != nil {
		return test, nil, false, fmt.Errorf("%w: %v", ErrSplitSum, err)
	}

	next := test.Clone()
	next.TrafficSplit = split
	details := map[string]any{
		"strategy": p.Strategy,
		"oldSplit": append([]float64(nil), test.TrafficSplit...),
		"newSplit": append([]float64(nil), split...),
	}
	return next, details, true, nil
}

// perfRates returns conversion rates aligned with variations.
func (ev *evaluator) perfRates(variations []experiment.Variation) []float64 {
	rates := make([]float64, len(variations))
	for i, v := range variations {
		for _, p := range ev.perf {
			if p.Variation == v.Label {
				rates[i] = p.ConversionRate
				break
			}
		}
	}
	return rates
}

// WinnerTakesMoreSplit gives the highest converting variation winnerBonus
// percent and every other variation max(minTraffic, remainder share).
func WinnerTakesMoreSplit(variations []experiment.Variation, rates []float64, winnerBonus, minTraffic float64) []float64 {
	n := len(variations)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []float64{winnerBonus}
	}
	base := math.Max(minTraffic, (100-winnerBonus)/float64(n-1))

	winner := 0
	for i := 1; i < n; i++ {
		if rates[i] > rates[winner] {
			winner = i
		}
	}

	split := make([]float64, n)
	for i := range split {
		split[i] = base
	}
	split[winner] = winnerBonus
	return split
}

// EqualSplit divides traffic evenly across n variations.
func EqualSplit(n int) []float64 {
	split := make([]float64, n)
	for i := range split {
		split[i] = 100 / float64(n)
	}
	return split
}

func extendTest(test experiment.Test, p experiment.ExtendTest) (experiment.Test, map[string]any, bool, error) {
	if p.ExtensionDays <= 0 {
		return test, nil, false, fmt.Errorf("extension days must be positive, got %d", p.ExtensionDays)
	}
	old := test.DurationDays()

	next := test.Clone()
	next.Duration = old + p.ExtensionDays
	next.DurationUnit = experiment.UnitDays
	next.CompletedAt = nil

	details := map[string]any{
		"extensionDays": p.ExtensionDays,
		"oldDuration":   old,
		"newDuration":   next.Duration,
		"reason":        p.Reason,
	}
	return next, details, true, nil
}
