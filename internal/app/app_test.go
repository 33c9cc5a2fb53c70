package app

import (
	"bytes"
	"encoding/csv"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"price-testing/internal/analytics"
	"price-testing/internal/automation"
	"price-testing/internal/experiment"
	"price-testing/internal/service"
)

var now = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func sampleTest() experiment.Test {
	return experiment.Test{
		ID:        "t-1",
		Name:      "Spring price",
		ProductID: "p1",
		Status:    experiment.StatusRunning,
		Variations: []experiment.Variation{
			{Label: "A", Price: decimal.NewFromInt(10), IsControl: true},
			{Label: "B", Price: decimal.RequireFromString("12.5")},
		},
		TrafficSplit: []float64{50, 50},
		SelectedGoal: experiment.GoalRevenuePerVisitor,
		CreatedAt:    now.AddDate(0, 0, -3),
	}
}

func sampleReport(t *testing.T) service.Analytics {
	t.Helper()
	test := sampleTest()
	cents := int64(1250)
	events := []experiment.Event{
		{Type: experiment.EventPageView, TestID: "t-1", Variation: "A", Path: "/a", TS: now.Add(-2 * time.Hour)},
		{Type: experiment.EventPageView, TestID: "t-1", Variation: "B", Path: "/b", TS: now.Add(-90 * time.Minute)},
		{Type: experiment.EventAddToCart, TestID: "t-1", Variation: "B", Path: "/b", TS: now.Add(-80 * time.Minute)},
		{Type: experiment.EventPurchase, TestID: "t-1", Variation: "B", Path: "/b", RevenueCents: &cents, TS: now.Add(-70 * time.Minute)},
	}
	window := analytics.ResolveRange("7d", now)
	return service.Analyze(test, events, analytics.DedupByPath, window, now)
}

func TestWriteReportCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReportCSV(&buf, sampleReport(t)); err != nil {
		t.Fatalf("writeReportCSV: %v", err)
	}

	r := csv.NewReader(strings.NewReader(buf.String()))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}

	if records[0][0] != "Variant" || len(records[0]) != 11 {
		t.Fatalf("header = %v", records[0])
	}
	b := records[2]
	if b[0] != "B" || b[3] != "1" || b[4] != "1" || b[5] != "1" || b[7] != "12.50" || b[10] != "No" {
		t.Fatalf("row B = %v", b)
	}
	if records[1][10] != "Yes" {
		t.Fatalf("row A = %v", records[1])
	}

	text := buf.String()
	for _, want := range []string{"SUMMARY", "Total Visitors,2", "Total Revenue,$12.50", "TIME SERIES DATA", "Date,A Conversions,B Conversions,A Revenue,B Revenue"} {
		if !strings.Contains(text, want) {
			t.Errorf("csv missing %q:\n%s", want, text)
		}
	}
	if !strings.Contains(text, "2026-05-20,0,1,0.00,12.50") {
		t.Errorf("series row for today missing:\n%s", text)
	}
}

func TestWriteSeriesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts", "t-1.png")
	if err := writeSeriesPNG(path, sampleReport(t).ChartData, 640, 360); err != nil {
		t.Fatalf("writeSeriesPNG: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read png: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatalf("not a png")
	}

	if err := writeSeriesPNG(path, nil, 0, 0); err == nil {
		t.Fatalf("expected error for empty series")
	}
}

func TestPrintAnalysis(t *testing.T) {
	var buf bytes.Buffer
	if err := printAnalysis(&buf, sampleReport(t)); err != nil {
		t.Fatalf("printAnalysis: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Test t-1 (Running)", "Variation", "control", "Recommendation:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	if err := printOutcome(&buf, automation.Outcome{}); err != nil {
		t.Fatalf("printOutcome: %v", err)
	}
	if !strings.Contains(buf.String(), "no automation rules evaluated") {
		t.Fatalf("output = %q", buf.String())
	}

	buf.Reset()
	out := automation.Outcome{
		Results: []automation.RuleResult{
			{RuleID: "r1", Executed: true, Action: experiment.ActionStopVariation},
			{RuleID: "r2", Err: errors.New("rule r2: unknown action type \"x\"")},
		},
		Logs: []automation.LogEntry{{ID: "l1"}},
	}
	if err := printOutcome(&buf, out); err != nil {
		t.Fatalf("printOutcome: %v", err)
	}
	if !strings.Contains(buf.String(), "1 executed, 1 failed, 1 actions logged") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestSimulateMatchesSplit(t *testing.T) {
	test, err := syntheticTest([]float64{30, 70})
	if err != nil {
		t.Fatalf("syntheticTest: %v", err)
	}
	const visitors = 100000
	counts := simulateAssignments(&test, visitors, func(i int) string {
		return "visitor_" + strconv.Itoa(i)
	})
	for i, v := range test.Variations {
		got := float64(counts[v.Label]) / visitors * 100
		if math.Abs(got-test.TrafficSplit[i]) > 2 {
			t.Errorf("%s: got %.2f%%, want %.0f%%", v.Label, got, test.TrafficSplit[i])
		}
	}

	if _, err := syntheticTest([]float64{60, 60}); err == nil {
		t.Fatalf("expected split error")
	}
	if _, err := syntheticTest([]float64{100}); err == nil {
		t.Fatalf("expected error for single weight")
	}
}

func TestPrintDistributionShiftsStoppedShareToControl(t *testing.T) {
	test := sampleTest()
	test.StoppedVariations = []string{"B"}
	var buf bytes.Buffer
	if err := printDistribution(&buf, &test, map[string]int{"A": 10}, 10); err != nil {
		t.Fatalf("printDistribution: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.Contains(lines[1], "100.00") || !strings.Contains(lines[2], "0.00") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestGenerateDay(t *testing.T) {
	test := sampleTest()
	dayStart := time.Date(2026, 5, 18, 0, 0, 0, 0, time.UTC)
	end := dayStart.Add(6 * time.Hour)
	opts := SeedOptions{VisitorsPerDay: 200, AddToCartRate: 1, ConversionRate: []float64{0, 1}}

	events := generateDay(&test, dayStart, end, opts, rand.New(rand.NewPCG(1, 0)))

	var views, carts, purchases int
	for _, e := range events {
		if e.TS.Before(dayStart) || !e.TS.Before(end) {
			t.Fatalf("event outside window: %v", e.TS)
		}
		switch e.Type {
		case experiment.EventPageView:
			views++
		case experiment.EventAddToCart:
			carts++
		case experiment.EventPurchase:
			purchases++
			if e.Variation != "B" || e.Revenue() != 1250 || e.Qty == nil || *e.Qty != 1 {
				t.Fatalf("purchase = %+v", e)
			}
		}
	}
	if views != 200 {
		t.Fatalf("views = %d", views)
	}
	if carts == 0 || purchases == 0 || purchases >= views {
		t.Fatalf("carts = %d purchases = %d", carts, purchases)
	}

	again := generateDay(&test, dayStart, end, opts, rand.New(rand.NewPCG(1, 0)))
	if len(again) != len(events) {
		t.Fatalf("same seed produced %d events, want %d", len(again), len(events))
	}
}
