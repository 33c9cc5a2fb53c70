package analytics

import (
	"github.com/shopspring/decimal"

	"price-testing/internal/experiment"
)

// DedupKey selects the event field that identifies a unique visitor.
type DedupKey string

const (
	// DedupByPath counts distinct page paths. It is the legacy behaviour and
	// under- or over-counts whenever visitors and paths do not line up 1:1.
	DedupByPath DedupKey = "path"
	// DedupByVisitor counts distinct visitor ids, falling back to the path for
	// events recorded without one.
	DedupByVisitor DedupKey = "visitor"
)

// ParseDedupKey maps a config value to a DedupKey, defaulting to path.
func ParseDedupKey(s string) DedupKey {
	if DedupKey(s) == DedupByVisitor {
		return DedupByVisitor
	}
	return DedupByPath
}

// Options tune aggregation.
type Options struct {
	Dedup DedupKey
}

// VariationPerformance is the per-variation rollup of an event slice.
type VariationPerformance struct {
	Variation         string          `json:"variation"`
	Label             string          `json:"label"`
	Price             decimal.Decimal `json:"price"`
	TrafficPercentage float64         `json:"trafficPercentage"`
	Visitors          int             `json:"visitors"`
	Conversions       int             `json:"conversions"`
	AddToCart         int             `json:"addToCart"`
	ConversionRate    float64         `json:"conversionRate"`
	Revenue           float64         `json:"revenue"`
	RevenuePerVisitor float64         `json:"revenuePerVisitor"`
	IsControl         bool            `json:"isControl"`
}

// AverageOrderValue is revenue per conversion, 0 without conversions.
func (p VariationPerformance) AverageOrderValue() float64 {
	if p.Conversions == 0 {
		return 0
	}
	return p.Revenue / float64(p.Conversions)
}

// AddToCartRate is add-to-cart events per visitor in percent.
func (p VariationPerformance) AddToCartRate() float64 {
	if p.Visitors == 0 {
		return 0
	}
	return float64(p.AddToCart) / float64(p.Visitors) * 100
}

type accumulator struct {
	visitors     map[string]struct{}
	conversions  int
	addToCart    int
	revenueCents int64
}

// Aggregate rolls events up into one VariationPerformance per variation of
// test, in variation order. Events for unknown variations are ignored.
func Aggregate(events []experiment.Event, test *experiment.Test, opts Options) []VariationPerformance {
	accs := make(map[string]*accumulator, len(test.Variations))
	for _, v := range test.Variations {
		accs[v.Label] = &accumulator{visitors: make(map[string]struct{})}
	}

	for _, e := range events {
		acc, ok := accs[e.Variation]
		if !ok {
			continue
		}
		switch e.Type {
		case experiment.EventPageView:
			acc.visitors[visitorKey(e, opts.Dedup)] = struct{}{}
		case experiment.EventPurchase:
			acc.conversions++
			acc.revenueCents += e.Revenue()
		case experiment.EventAddToCart:
			acc.addToCart++
		}
	}

	out := make([]VariationPerformance, 0, len(test.Variations))
	for i, v := range test.Variations {
		acc := accs[v.Label]
		perf := VariationPerformance{
			Variation:   v.Label,
			Label:       displayLabel(v),
			Price:       v.Price,
			Visitors:    len(acc.visitors),
			Conversions: acc.conversions,
			AddToCart:   acc.addToCart,
			Revenue:     float64(acc.revenueCents) / 100,
			IsControl:   v.IsControl,
		}
		if i < len(test.TrafficSplit) {
			perf.TrafficPercentage = test.TrafficSplit[i]
		}
		if perf.Visitors > 0 {
			perf.ConversionRate = float64(perf.Conversions) / float64(perf.Visitors) * 100
			perf.RevenuePerVisitor = perf.Revenue / float64(perf.Visitors)
		}
		out = append(out, perf)
	}
	return out
}

func visitorKey(e experiment.Event, key DedupKey) string {
	if key == DedupByVisitor && e.VisitorID != "" {
		return e.VisitorID
	}
	return e.Path
}

func displayLabel(v experiment.Variation) string {
	if v.IsControl {
		return "Control"
	}
	return "Variant " + v.Label
}

// KPIs are totals across all variations of a test.
type KPIs struct {
	TotalVisitors     int     `json:"totalVisitors"`
	TotalConversions  int     `json:"totalConversions"`
	TotalRevenue      float64 `json:"totalRevenue"`
	RevenuePerVisitor float64 `json:"revenuePerVisitor"`
	ConversionRate    float64 `json:"conversionRate"`
}

// Summarize computes test-wide KPIs from per-variation performance.
func Summarize(perf []VariationPerformance) KPIs {
	var k KPIs
	for _, p := range perf {
		k.TotalVisitors += p.Visitors
		k.TotalConversions += p.Conversions
		k.TotalRevenue += p.Revenue
	}
	if k.TotalVisitors > 0 {
		k.RevenuePerVisitor = k.TotalRevenue / float64(k.TotalVisitors)
		k.ConversionRate = float64(k.TotalConversions) / float64(k.TotalVisitors) * 100
	}
	return k
}
