package automation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"price-testing/internal/analytics"
	"price-testing/internal/experiment"
)

var now = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func perfRow(label string, visitors, conversions int, control bool) analytics.VariationPerformance {
	p := analytics.VariationPerformance{Variation: label, Visitors: visitors, Conversions: conversions, IsControl: control}
	if visitors > 0 {
		p.ConversionRate = float64(conversions) / float64(visitors) * 100
	}
	return p
}

func samplePerf() []analytics.VariationPerformance {
	return []analytics.VariationPerformance{
		perfRow("A", 1000, 50, true),
		perfRow("B", 1000, 80, false),
	}
}

func runningTest(rules ...experiment.Rule) experiment.Test {
	started := now.Add(-10 * 24 * time.Hour)
	return experiment.Test{
		ID:     "t-1",
		Status: experiment.StatusRunning,
		Variations: []experiment.Variation{
			{Label: "A", Price: decimal.RequireFromString("10.00"), IsControl: true},
			{Label: "B", Price: decimal.RequireFromString("12.00")},
		},
		TrafficSplit: []float64{50, 50},
		Automation:   experiment.AutomationSettings{Enabled: true, Rules: rules},
		Duration:     14,
		DurationUnit: experiment.UnitDays,
		CreatedAt:    started.Add(-time.Hour),
		StartedAt:    &started,
	}
}

func always(id string, action experiment.Action) experiment.Rule {
	return experiment.Rule{
		ID: id,
		Condition: experiment.Condition{
			Type:    experiment.ConditionTrafficVolume,
			Traffic: &experiment.TrafficVolume{Variation: "A", MinVisitors: 1},
		},
		Action: action,
	}
}

func stopAction(label string) experiment.Action {
	return experiment.Action{
		Type:          experiment.ActionStopVariation,
		StopVariation: &experiment.StopVariation{Variation: label, Reason: "underperforming"},
	}
}

func TestProcessIsolatesFailingRules(t *testing.T) {
	badCondition := always("r0", stopAction("A"))
	badCondition.Condition = experiment.Condition{Type: "moon_phase"}
	test := runningTest(
		badCondition,
		always("r1", experiment.Action{Type: "teleport"}),
		always("r2", stopAction("A")),
	)

	out := Process(test, samplePerf(), now)
	if len(out.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(out.Results))
	}

	var unknown *UnknownRuleError
	if !errors.As(out.Results[0].Err, &unknown) || unknown.Kind != "condition" {
		t.Fatalf("r0 err = %v", out.Results[0].Err)
	}
	if !errors.As(out.Results[1].Err, &unknown) || unknown.Kind != "action" || unknown.Type != "teleport" {
		t.Fatalf("r1 err = %v", out.Results[1].Err)
	}
	if !out.Results[2].Executed || out.Results[2].Err != nil {
		t.Fatalf("r2 = %+v", out.Results[2])
	}
	if out.Failed() != 2 || out.Executed() != 1 || !out.Changed() || len(out.Logs) != 1 {
		t.Fatalf("outcome counts: failed=%d executed=%d logs=%d", out.Failed(), out.Executed(), len(out.Logs))
	}
	if got := out.Test.StoppedVariations; len(got) != 1 || got[0] != "A" {
		t.Fatalf("stopped = %v", got)
	}
	if len(test.StoppedVariations) != 0 {
		t.Fatal("input test must not be modified")
	}

	log := out.Logs[0]
	if log.ID == "" || log.TestID != "t-1" || log.Action != experiment.ActionStopVariation || !log.Timestamp.Equal(now) {
		t.Fatalf("log = %+v", log)
	}
}

func TestProcessSkipsInactiveTests(t *testing.T) {
	paused := runningTest(always("r1", stopAction("A")))
	paused.Status = experiment.StatusPaused
	if out := Process(paused, samplePerf(), now); len(out.Results) != 0 || out.Changed() {
		t.Fatalf("paused test evaluated: %+v", out)
	}

	disabled := runningTest(always("r1", stopAction("A")))
	disabled.Automation.Enabled = false
	if out := Process(disabled, samplePerf(), now); len(out.Results) != 0 || out.Changed() {
		t.Fatalf("disabled automation evaluated: %+v", out)
	}
}

func TestConditionNotMet(t *testing.T) {
	rule := always("r1", stopAction("A"))
	rule.Condition.Traffic.MinVisitors = 5000
	out := Process(runningTest(rule), samplePerf(), now)
	if out.Results[0].Executed || out.Results[0].Reason != "Condition not met" || out.Changed() {
		t.Fatalf("result = %+v", out.Results[0])
	}
}

func TestConditions(t *testing.T) {
	created := now.Add(-3 * 24 * time.Hour)
	notStarted := runningTest()
	notStarted.StartedAt = nil
	notStarted.CreatedAt = created

	perf := func(variation, metric, op string, v float64) experiment.Condition {
		return experiment.Condition{
			Type:        experiment.ConditionPerformanceThreshold,
			Performance: &experiment.PerformanceThreshold{Variation: variation, Metric: metric, Operator: op, Value: v},
		}
	}
	sig := func(variation string, conf, lift float64) experiment.Condition {
		return experiment.Condition{
			Type:         experiment.ConditionStatisticalSignificance,
			Significance: &experiment.SignificanceThreshold{Variation: variation, MinConfidence: conf, MinLift: lift},
		}
	}
	window := func(value float64, unit, op string) experiment.Condition {
		return experiment.Condition{
			Type: experiment.ConditionTimeBased,
			Time: &experiment.TimeCondition{Window: experiment.TimeWindow{Value: value, Unit: unit}, Operator: op},
		}
	}
	traffic := func(variation string, min int) experiment.Condition {
		return experiment.Condition{
			Type:    experiment.ConditionTrafficVolume,
			Traffic: &experiment.TrafficVolume{Variation: variation, MinVisitors: min},
		}
	}

	cases := []struct {
		name string
		cond experiment.Condition
		test experiment.Test
		want bool
	}{
		{"rate above", perf("B", MetricConversionRate, OpGreaterThan, 7), runningTest(), true},
		{"rate below", perf("B", MetricConversionRate, OpLessThan, 7), runningTest(), false},
		{"equals within tolerance", perf("B", MetricConversionRate, OpEquals, 8.005), runningTest(), true},
		{"equals outside tolerance", perf("B", MetricConversionRate, OpEquals, 8.02), runningTest(), false},
		{"visitors gte", perf("A", MetricVisitors, OpGreaterThanOrEqual, 1000), runningTest(), true},
		{"unknown operator", perf("B", MetricConversionRate, "roughly", 8), runningTest(), false},
		{"unknown metric reads zero", perf("B", "bounce_rate", OpLessThanOrEqual, 0), runningTest(), true},
		{"unknown variation", perf("E", MetricVisitors, OpGreaterThan, -1), runningTest(), false},
		{"significant", sig("B", 95, 50), runningTest(), true},
		{"lift too small", sig("B", 95, 70), runningTest(), false},
		{"after window", window(7, "days", OpAfter), runningTest(), true},
		{"before window", window(7, "days", OpBefore), runningTest(), false},
		{"weeks unit", window(2, "weeks", OpBefore), runningTest(), true},
		{"falls back to created", window(72, "hours", OpAfter), notStarted, true},
		{"unknown time operator", window(1, "minutes", "during"), runningTest(), false},
		{"traffic reached", traffic("B", 1000), runningTest(), true},
		{"traffic short", traffic("B", 1001), runningTest(), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := &evaluator{perf: samplePerf(), now: now}
			got, err := ev.conditionMet(experiment.Rule{ID: "r", Condition: tc.cond}, &tc.test)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMissingPayloadFailsRule(t *testing.T) {
	rule := always("r1", experiment.Action{Type: experiment.ActionAdjustPrice})
	out := Process(runningTest(rule), samplePerf(), now)
	if out.Results[0].Err == nil || out.Results[0].Executed {
		t.Fatalf("result = %+v", out.Results[0])
	}
}

func adjust(label, kind, value, rounding string) experiment.Action {
	return experiment.Action{
		Type: experiment.ActionAdjustPrice,
		AdjustPrice: &experiment.AdjustPrice{
			Variation:       label,
			AdjustmentType:  kind,
			AdjustmentValue: decimal.RequireFromString(value),
			Rounding:        rounding,
		},
	}
}

func TestAdjustPrice(t *testing.T) {
	cases := []struct {
		name   string
		action experiment.Action
		label  string
		want   string
	}{
		{"percentage round up", adjust("B", AdjustPercentage, "10", RoundUp), "B", "14"},
		{"percentage none", adjust("B", AdjustPercentage, "-25", RoundNone), "B", "9"},
		{"fixed to cent", adjust("A", AdjustFixedAmount, "-0.514", RoundToCent), "A", "9.49"},
		{"set to dollar", adjust("A", AdjustSetTo, "19.6", RoundToDollar), "A", "20"},
		{"round down", adjust("B", AdjustFixedAmount, "0.99", RoundDown), "B", "12"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Process(runningTest(always("r1", tc.action)), samplePerf(), now)
			if out.Results[0].Err != nil {
				t.Fatalf("unexpected error: %v", out.Results[0].Err)
			}
			v, _, _ := out.Test.Variation(tc.label)
			if !v.Price.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("price = %s, want %s", v.Price, tc.want)
			}
			if out.Logs[0].Details["newPrice"] != v.Price.String() {
				t.Fatalf("details = %v", out.Logs[0].Details)
			}
		})
	}
}

func TestAdjustPriceSequentialRules(t *testing.T) {
	test := runningTest(
		always("r1", adjust("B", AdjustPercentage, "10", RoundNone)),
		always("r2", adjust("B", AdjustPercentage, "10", RoundNone)),
	)
	out := Process(test, samplePerf(), now)
	v, _, _ := out.Test.Variation("B")
	if !v.Price.Equal(decimal.RequireFromString("14.52")) {
		t.Fatalf("price = %s, want 14.52", v.Price)
	}
	if len(out.Logs) != 2 || out.Logs[1].Details["oldPrice"] != "13.2" {
		t.Fatalf("logs = %+v", out.Logs)
	}
}

func TestAdjustPriceRejectsInvalid(t *testing.T) {
	cases := []experiment.Action{
		adjust("B", AdjustSetTo, "0", RoundNone),
		adjust("B", AdjustFixedAmount, "-20", RoundNone),
		adjust("E", AdjustSetTo, "5", RoundNone),
		adjust("B", "multiply", "2", RoundNone),
	}
	for _, action := range cases {
		out := Process(runningTest(always("r1", action)), samplePerf(), now)
		if out.Results[0].Err == nil || out.Changed() {
			t.Fatalf("%+v: want failure, got %+v", action.AdjustPrice, out.Results[0])
		}
		v, _, _ := out.Test.Variation("B")
		if !v.Price.Equal(decimal.RequireFromString("12")) {
			t.Fatalf("price changed to %s", v.Price)
		}
	}
}

func TestApplyRoundingIsIdempotent(t *testing.T) {
	modes := []string{RoundNearest, RoundUp, RoundDown, RoundToCent, RoundToDollar, RoundNone, "bogus"}
	values := []string{"0.004", "9.995", "12.5", "19.99", "-3.7", "100"}
	for _, mode := range modes {
		for _, s := range values {
			once := ApplyRounding(decimal.RequireFromString(s), mode)
			twice := ApplyRounding(once, mode)
			if !once.Equal(twice) {
				t.Fatalf("%s(%s): %s then %s", mode, s, once, twice)
			}
		}
	}
}

func TestStopVariationIsIdempotent(t *testing.T) {
	test := runningTest(always("r1", stopAction("B")))
	test.StoppedVariations = []string{"B"}

	out := Process(test, samplePerf(), now)
	if !out.Results[0].Executed || out.Changed() {
		t.Fatalf("repeat stop must succeed without logging: %+v", out)
	}
	if len(out.Test.StoppedVariations) != 1 {
		t.Fatalf("stopped = %v", out.Test.StoppedVariations)
	}
}

func rebalance(p experiment.RebalanceTraffic) experiment.Action {
	return experiment.Action{Type: experiment.ActionRebalanceTraffic, Rebalance: &p}
}

func TestRebalanceTraffic(t *testing.T) {
	cases := []struct {
		name   string
		action experiment.Action
		want   []float64
	}{
		{"winner takes more", rebalance(experiment.RebalanceTraffic{Strategy: StrategyWinnerTakesMore, WinnerBonus: 60, MinTraffic: 10}), []float64{40, 60}},
		{"min traffic floor", rebalance(experiment.RebalanceTraffic{Strategy: StrategyWinnerTakesMore, WinnerBonus: 70, MinTraffic: 30}), []float64{30, 70}},
		{"equal split", rebalance(experiment.RebalanceTraffic{Strategy: StrategyEqualSplit}), []float64{50, 50}},
		{"custom", rebalance(experiment.RebalanceTraffic{Strategy: StrategyCustom, CustomSplit: []float64{20, 80}}), []float64{20, 80}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			test := runningTest(always("r1", tc.action))
			test.TrafficSplit = []float64{70, 30}
			out := Process(test, samplePerf(), now)
			if out.Results[0].Err != nil {
				t.Fatalf("unexpected error: %v", out.Results[0].Err)
			}
			got := out.Test.TrafficSplit
			if len(got) != len(tc.want) || got[0] != tc.want[0] || got[1] != tc.want[1] {
				t.Fatalf("split = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRebalanceRejectsBadSums(t *testing.T) {
	cases := []experiment.Action{
		rebalance(experiment.RebalanceTraffic{Strategy: StrategyCustom, CustomSplit: []float64{70, 40}}),
		rebalance(experiment.RebalanceTraffic{Strategy: StrategyCustom, CustomSplit: []float64{100}}),
		rebalance(experiment.RebalanceTraffic{Strategy: StrategyWinnerTakesMore, WinnerBonus: 60, MinTraffic: 50}),
	}
	for _, action := range cases {
		out := Process(runningTest(always("r1", action)), samplePerf(), now)
		if !errors.Is(out.Results[0].Err, ErrSplitSum) {
			t.Fatalf("%+v: err = %v", action.Rebalance, out.Results[0].Err)
		}
		if out.Test.TrafficSplit[0] != 50 || out.Changed() {
			t.Fatalf("split changed to %v", out.Test.TrafficSplit)
		}
	}

	out := Process(runningTest(always("r1", rebalance(experiment.RebalanceTraffic{Strategy: "random"}))), samplePerf(), now)
	if out.Results[0].Err == nil {
		t.Fatal("unknown strategy must fail")
	}
}

func TestWinnerTakesMoreSplitThreeWay(t *testing.T) {
	variations := []experiment.Variation{{Label: "A"}, {Label: "B"}, {Label: "C"}}
	got := WinnerTakesMoreSplit(variations, []float64{5, 4, 9}, 50, 10)
	if got[0] != 25 || got[1] != 25 || got[2] != 50 {
		t.Fatalf("split = %v", got)
	}
}

func TestExtendTest(t *testing.T) {
	completed := now.Add(-time.Hour)
	test := runningTest(always("r1", experiment.Action{
		Type:   experiment.ActionExtendTest,
		Extend: &experiment.ExtendTest{ExtensionDays: 3, Reason: "needs more data"},
	}))
	test.Duration = 2
	test.DurationUnit = experiment.UnitWeeks
	test.CompletedAt = &completed

	out := Process(test, samplePerf(), now)
	if out.Results[0].Err != nil {
		t.Fatalf("unexpected error: %v", out.Results[0].Err)
	}
	if out.Test.Duration != 17 || out.Test.DurationUnit != experiment.UnitDays || out.Test.CompletedAt != nil {
		t.Fatalf("test = duration %d %s completed %v", out.Test.Duration, out.Test.DurationUnit, out.Test.CompletedAt)
	}
	d := out.Logs[0].Details
	if d["oldDuration"] != 14 || d["newDuration"] != 17 || d["extensionDays"] != 3 {
		t.Fatalf("details = %v", d)
	}
	if test.CompletedAt == nil {
		t.Fatal("input test must keep its completion time")
	}
}
