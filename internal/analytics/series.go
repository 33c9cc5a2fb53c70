package analytics

import (
	"fmt"
	"strings"
	"time"

	"price-testing/internal/experiment"
)

// SeriesDays is the fixed width of the trend chart.
const SeriesDays = 7

const dayLayout = "2006-01-02"

// DayMetrics are one variation's counts for a single UTC day.
type DayMetrics struct {
	Visitors    int     `json:"visitors"`
	Conversions int     `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// DayPoint is one bucket of the daily series.
type DayPoint struct {
	Date       string                `json:"date"`
	Variations map[string]DayMetrics `json:"variations"`
}

// DailySeries buckets events into SeriesDays UTC days ending with end's day.
// Every variation label has an entry in every bucket. Visitors here count
// page_view events, not distinct visitors.
func DailySeries(events []experiment.Event, variations []experiment.Variation, end time.Time) []DayPoint {
	last := truncateDay(end)
	first := last.AddDate(0, 0, -(SeriesDays - 1))

	points := make([]DayPoint, SeriesDays)
	index := make(map[string]int, SeriesDays)
	for i := range points {
		key := first.AddDate(0, 0, i).Format(dayLayout)
		metrics := make(map[string]DayMetrics, len(variations))
		for _, v := range variations {
			metrics[v.Label] = DayMetrics{}
		}
		points[i] = DayPoint{Date: key, Variations: metrics}
		index[key] = i
	}

	for _, e := range events {
		i, ok := index[e.TS.UTC().Format(dayLayout)]
		if !ok {
			continue
		}
		m, known := points[i].Variations[e.Variation]
		if !known {
			continue
		}
		switch e.Type {
		case experiment.EventPurchase:
			m.Conversions++
			m.Revenue += float64(e.Revenue()) / 100
		case experiment.EventPageView:
			m.Visitors++
		default:
			continue
		}
		points[i].Variations[e.Variation] = m
	}
	return points
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DateRange is a named reporting window.
type DateRange struct {
	Key   string    `json:"key"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

var rangeDays = map[string]int{
	"1d":  1,
	"7d":  7,
	"30d": 30,
	"90d": 90,
}

// DefaultRange is used when no range is requested.
const DefaultRange = "7d"

// ValidRange reports whether key names a supported window.
func ValidRange(key string) bool {
	_, ok := rangeDays[key]
	return ok
}

// ResolveRange returns the window ending at now for key. Unknown keys fall
// back to DefaultRange.
func ResolveRange(key string, now time.Time) DateRange {
	key = strings.ToLower(strings.TrimSpace(key))
	days, ok := rangeDays[key]
	if !ok {
		key = DefaultRange
		days = rangeDays[DefaultRange]
	}
	end := now.UTC()
	return DateRange{Key: key, Start: end.AddDate(0, 0, -days), End: end}
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s (%s - %s)", r.Key, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
