package analytics

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"price-testing/internal/experiment"
)

var day = time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)

func sampleTest() *experiment.Test {
	return &experiment.Test{
		ID: "t1",
		Variations: []experiment.Variation{
			{Label: "A", Price: decimal.NewFromInt(20), IsControl: true},
			{Label: "B", Price: decimal.NewFromInt(25)},
			{Label: "C", Price: decimal.NewFromInt(30)},
		},
		TrafficSplit: []float64{40, 30, 30},
	}
}

func view(variation, path, visitor string, ts time.Time) experiment.Event {
	return experiment.Event{Type: experiment.EventPageView, Variation: variation, Path: path, VisitorID: visitor, TS: ts}
}

func purchase(variation string, cents int64, ts time.Time) experiment.Event {
	return experiment.Event{Type: experiment.EventPurchase, Variation: variation, RevenueCents: &cents, TS: ts}
}

func TestAggregateCountsAndRates(t *testing.T) {
	events := []experiment.Event{
		view("A", "/p/1", "v1", day),
		view("A", "/p/1", "v2", day),
		view("A", "/p/2", "v3", day),
		{Type: experiment.EventAddToCart, Variation: "A", TS: day},
		purchase("A", 2000, day),
		view("B", "/p/1", "v4", day),
		purchase("B", 2500, day),
		purchase("B", 2550, day),
		view("Z", "/p/9", "v9", day),
	}

	perf := Aggregate(events, sampleTest(), Options{})
	if len(perf) != 3 {
		t.Fatalf("want 3 rows, got %d", len(perf))
	}

	a := perf[0]
	if a.Visitors != 2 || a.Conversions != 1 || a.AddToCart != 1 {
		t.Fatalf("unexpected A counts: %+v", a)
	}
	if a.ConversionRate != 50 || a.Revenue != 20 || a.RevenuePerVisitor != 10 {
		t.Fatalf("unexpected A rates: %+v", a)
	}
	if !a.IsControl || a.Label != "Control" || a.TrafficPercentage != 40 {
		t.Fatalf("config not carried: %+v", a)
	}

	b := perf[1]
	if b.Visitors != 1 || b.Conversions != 2 || math.Abs(b.Revenue-50.5) > 1e-9 || b.Label != "Variant B" {
		t.Fatalf("unexpected B: %+v", b)
	}
	if b.AverageOrderValue() != 25.25 {
		t.Fatalf("AOV = %v", b.AverageOrderValue())
	}

	c := perf[2]
	if c.Visitors != 0 || c.ConversionRate != 0 || c.RevenuePerVisitor != 0 || c.AddToCartRate() != 0 {
		t.Fatalf("empty variation must have zero rates: %+v", c)
	}
}

func TestAggregateDedupByVisitor(t *testing.T) {
	events := []experiment.Event{
		view("A", "/p/1", "v1", day),
		view("A", "/p/1", "v2", day),
		view("A", "/p/2", "v1", day),
		view("A", "/p/3", "", day),
	}
	perf := Aggregate(events, sampleTest(), Options{Dedup: DedupByVisitor})
	if perf[0].Visitors != 3 {
		t.Fatalf("visitor dedup counted %d, want 3", perf[0].Visitors)
	}
	if ParseDedupKey("visitor") != DedupByVisitor || ParseDedupKey("bogus") != DedupByPath {
		t.Fatal("ParseDedupKey mapping wrong")
	}
}

func TestSummarize(t *testing.T) {
	k := Summarize([]VariationPerformance{
		{Visitors: 100, Conversions: 5, Revenue: 100},
		{Visitors: 100, Conversions: 15, Revenue: 300},
	})
	if k.TotalVisitors != 200 || k.TotalConversions != 20 || k.TotalRevenue != 400 {
		t.Fatalf("totals wrong: %+v", k)
	}
	if k.ConversionRate != 10 || k.RevenuePerVisitor != 2 {
		t.Fatalf("rates wrong: %+v", k)
	}
	if z := Summarize(nil); z.ConversionRate != 0 || z.RevenuePerVisitor != 0 {
		t.Fatalf("empty summary must be zero: %+v", z)
	}
}

func TestDailySeries(t *testing.T) {
	test := sampleTest()
	events := []experiment.Event{
		view("A", "/p", "v1", day.Add(-2*time.Hour)),
		view("C", "/p", "v2", day),
		purchase("C", 1999, day),
		purchase("B", 500, day.AddDate(0, 0, -6)),
		purchase("B", 500, day.AddDate(0, 0, -7)),
		purchase("Z", 500, day),
	}

	series := DailySeries(events, test.Variations, day)
	if len(series) != SeriesDays {
		t.Fatalf("want %d days, got %d", SeriesDays, len(series))
	}
	if series[0].Date != "2026-05-04" || series[6].Date != "2026-05-10" {
		t.Fatalf("window = %s..%s", series[0].Date, series[6].Date)
	}
	for _, p := range series {
		if len(p.Variations) != 3 {
			t.Fatalf("%s has %d variations", p.Date, len(p.Variations))
		}
	}

	today := series[6].Variations
	if today["A"].Visitors != 1 || today["C"].Visitors != 1 || today["C"].Conversions != 1 {
		t.Fatalf("today = %+v", today)
	}
	if math.Abs(today["C"].Revenue-19.99) > 1e-9 {
		t.Fatalf("C revenue = %v", today["C"].Revenue)
	}
	if series[0].Variations["B"].Conversions != 1 {
		t.Fatalf("first day = %+v", series[0].Variations)
	}
}

func TestResolveRange(t *testing.T) {
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	r := ResolveRange("30d", now)
	if r.Key != "30d" || !r.Start.Equal(now.AddDate(0, 0, -30)) || !r.End.Equal(now) {
		t.Fatalf("30d = %+v", r)
	}
	if r := ResolveRange("", now); r.Key != DefaultRange {
		t.Fatalf("default range = %s", r.Key)
	}
	if ValidRange("14d") {
		t.Fatal("14d is not a supported range")
	}
}

func TestBuildReportKeepsRecentTail(t *testing.T) {
	events := make([]experiment.Event, 0, 150)
	for i := 0; i < 150; i++ {
		events = append(events, view("A", fmt.Sprintf("/p/%d", i), "", day))
	}
	report := BuildReport(events, sampleTest(), Options{}, day)
	if len(report.RecentEvents) != RecentEventLimit {
		t.Fatalf("tail = %d", len(report.RecentEvents))
	}
	if report.RecentEvents[0].Path != "/p/50" {
		t.Fatalf("tail should start at event 50, got %s", report.RecentEvents[0].Path)
	}
	if report.KPIs.TotalVisitors != 150 {
		t.Fatalf("kpis = %+v", report.KPIs)
	}
	if _, ok := Find(report.VariationPerformance, "B"); !ok {
		t.Fatal("Find should locate B")
	}
}
