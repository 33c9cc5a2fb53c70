package stats

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"price-testing/internal/analytics"
)

// Method names the test used for a comparison.
type Method string

const (
	MethodChiSquare        Method = "chi_square"
	MethodFishersExact     Method = "fishers_exact"
	MethodInsufficientData Method = "insufficient_data"
	MethodNone             Method = "none"
)

const (
	// SignificanceLevel is the p-value a result must fall under.
	SignificanceLevel = 0.05
	// MinMaterialLift is the absolute lift, in percent, a result must reach.
	MinMaterialLift = 5.0
	// TargetPower is the power below which the engine asks for more data.
	TargetPower = 0.8

	z95 = 1.96

	smallSampleVisitors    = 30
	smallSampleConversions = 5
)

// ErrInsufficientData is returned when a group has no visitors.
var ErrInsufficientData = errors.New("insufficient data: group has no visitors")

// Recommendation texts shown when no comparison could be made.
const (
	RecNoControl      = "No control variation found"
	RecControlMissing = "Control variation not found in performance data"
	RecNoChallengers  = "No test variations found"
	RecLowPower       = "Insufficient statistical power. Increase sample size or test duration."
	RecNoSignificance = "No statistically significant winner found. Continue testing or increase sample size."
)

// ConfidenceInterval bounds the difference in conversion rate (test - control).
type ConfidenceInterval struct {
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Difference float64 `json:"difference"`
}

// Result compares one challenger against control.
type Result struct {
	Variation          string              `json:"variation"`
	Lift               float64             `json:"lift"`
	Confidence         float64             `json:"confidence"`
	PValue             float64             `json:"pValue"`
	IsSignificant      bool                `json:"isSignificant"`
	Method             Method              `json:"method"`
	ConfidenceInterval *ConfidenceInterval `json:"confidenceInterval,omitempty"`
	SampleSize         int                 `json:"sampleSize"`
	Power              float64             `json:"power"`
}

// Analysis is the significance verdict for a whole test. Values are not
// rounded.
type Analysis struct {
	Confidence     float64  `json:"confidence"`
	PValue         float64  `json:"pValue"`
	Winner         string   `json:"winner,omitempty"`
	Lift           float64  `json:"lift"`
	Recommendation string   `json:"recommendation"`
	Results        []Result `json:"allResults"`
	OverallPower   float64  `json:"overallPower"`
	Method         Method   `json:"method"`
}

// HasWinner reports whether a significant winner was found.
func (a Analysis) HasWinner() bool {
	return a.Winner != ""
}

// Result returns the comparison for label.
func (a Analysis) Result(label string) (Result, bool) {
	for _, r := range a.Results {
		if r.Variation == label {
			return r, true
		}
	}
	return Result{}, false
}

func neutral(rec string) Analysis {
	return Analysis{PValue: 1, Recommendation: rec, Method: MethodNone}
}

// CalculateSignificance compares every non-control variation against the
// control labelled controlLabel. It never fails; missing inputs produce a
// neutral analysis.
func CalculateSignificance(perf []analytics.VariationPerformance, controlLabel string) Analysis {
	if controlLabel == "" {
		return neutral(RecNoControl)
	}
	control, ok := analytics.Find(perf, controlLabel)
	if !ok {
		return neutral(RecControlMissing)
	}

	results := make([]Result, 0, len(perf))
	for _, p := range perf {
		if p.Variation == controlLabel {
			continue
		}
		res, err := Compare(control, p)
		if errors.Is(err, ErrInsufficientData) {
			res = Result{Variation: p.Variation, PValue: 1, Method: MethodInsufficientData}
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		return neutral(RecNoChallengers)
	}

	var winner *Result
	for i := range results {
		r := &results[i]
		if r.IsSignificant && (winner == nil || r.Lift > winner.Lift) {
			winner = r
		}
	}

	totalPower := 0.0
	for _, r := range results {
		totalPower += r.Power
	}
	out := Analysis{
		Results:      results,
		OverallPower: totalPower / float64(len(results)),
		Method:       MethodNone,
	}

	if winner != nil {
		out.Winner = winner.Variation
		out.Confidence = winner.Confidence
		out.PValue = winner.PValue
		out.Lift = winner.Lift
		out.Method = winner.Method
		out.Recommendation = fmt.Sprintf("Winner: %s shows %s%% improvement with %s%% confidence",
			winner.Variation, formatRounded(winner.Lift, 1), formatRounded(winner.Confidence, 0))
		return out
	}

	out.Confidence = math.Inf(-1)
	out.PValue = math.Inf(1)
	out.Lift = math.Inf(-1)
	for _, r := range results {
		out.Confidence = math.Max(out.Confidence, r.Confidence)
		out.PValue = math.Min(out.PValue, r.PValue)
		out.Lift = math.Max(out.Lift, r.Lift)
	}
	if out.OverallPower < TargetPower {
		out.Recommendation = RecLowPower
	} else {
		out.Recommendation = RecNoSignificance
	}
	return out
}

// Compare runs the two-proportion comparison of challenger against control.
func Compare(control, challenger analytics.VariationPerformance) (Result, error) {
	cv, cc := control.Visitors, control.Conversions
	tv, tc := challenger.Visitors, challenger.Conversions
	if cv == 0 || tv == 0 {
		return Result{}, ErrInsufficientData
	}

	controlRate := float64(cc) / float64(cv)
	testRate := float64(tc) / float64(tv)

	lift := 0.0
	if controlRate > 0 {
		lift = (testRate - controlRate) / controlRate * 100
	}

	method := MethodChiSquare
	var pValue float64
	if (cv < smallSampleVisitors || tv < smallSampleVisitors) &&
		(cc < smallSampleConversions || tc < smallSampleConversions) {
		method = MethodFishersExact
		pValue = NormalApproxPValue(cc, cv, tc, tv)
	} else {
		pValue = ChiSquarePValue(cc, cv, tc, tv)
	}

	ci := DifferenceInterval(controlRate, testRate, cv, tv)
	return Result{
		Variation:          challenger.Variation,
		Lift:               lift,
		Confidence:         (1 - pValue) * 100,
		PValue:             pValue,
		IsSignificant:      pValue < SignificanceLevel && math.Abs(lift) >= MinMaterialLift,
		Method:             method,
		ConfidenceInterval: &ci,
		SampleSize:         cv + tv,
		Power:              Power(cc, cv, tc, tv),
	}, nil
}

// ChiSquarePValue tests independence on the 2x2 table of conversions and
// non-conversions. A table with an empty or negative row or column yields 1.
func ChiSquarePValue(cc, cv, tc, tv int) float64 {
	cn := float64(cv - cc)
	tn := float64(tv - tc)
	total := float64(cv + tv)
	conversions := float64(cc + tc)
	nonConversions := cn + tn

	observed := [4]float64{float64(cc), float64(tc), cn, tn}
	expected := [4]float64{
		float64(cv) * conversions / total,
		float64(tv) * conversions / total,
		float64(cv) * nonConversions / total,
		float64(tv) * nonConversions / total,
	}

	chi := 0.0
	for i := range observed {
		if expected[i] <= 0 {
			return 1
		}
		d := observed[i] - expected[i]
		chi += d * d / expected[i]
	}
	return clamp(2*(1-NormalCDF(math.Sqrt(chi))), 0, 1)
}

// NormalApproxPValue is the pooled two-proportion z-test used for small
// samples.
func NormalApproxPValue(cc, cv, tc, tv int) float64 {
	controlRate := float64(cc) / float64(cv)
	testRate := float64(tc) / float64(tv)
	se := pooledSE(cc, cv, tc, tv)

	z := 0.0
	if se > 0 {
		z = (testRate - controlRate) / se
	}
	return clamp(2*(1-NormalCDF(math.Abs(z))), 0, 1)
}

// DifferenceInterval is the 95% Wald interval for testRate - controlRate.
func DifferenceInterval(controlRate, testRate float64, cv, tv int) ConfidenceInterval {
	diff := testRate - controlRate
	variance := controlRate*(1-controlRate)/float64(cv) + testRate*(1-testRate)/float64(tv)
	se := math.Sqrt(math.Max(variance, 0))
	margin := z95 * se
	return ConfidenceInterval{Lower: diff - margin, Upper: diff + margin, Difference: diff}
}

// Power approximates the probability of detecting the observed effect at
// the 5% level.
func Power(cc, cv, tc, tv int) float64 {
	se := pooledSE(cc, cv, tc, tv)
	if se == 0 {
		return 0
	}
	effect := math.Abs(float64(tc)/float64(tv) - float64(cc)/float64(cv))
	return clamp(NormalCDF(effect/se-z95), 0, 1)
}

func pooledSE(cc, cv, tc, tv int) float64 {
	pooled := float64(cc+tc) / float64(cv+tv)
	if pooled <= 0 || pooled >= 1 {
		return 0
	}
	return math.Sqrt(pooled * (1 - pooled) * (1/float64(cv) + 1/float64(tv)))
}

// formatRounded renders v rounded to places decimals without trailing zeros.
func formatRounded(v float64, places int) string {
	scale := math.Pow(10, float64(places))
	return strconv.FormatFloat(math.Round(v*scale)/scale, 'f', -1, 64)
}
