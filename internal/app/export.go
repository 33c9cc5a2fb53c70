package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"price-testing/internal/analytics"
	"price-testing/internal/service"
)

// Export renders a test report as CSV and/or a PNG of its daily series.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.TestID == "" {
		return errors.New("test id is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		opts.CSVPath = filepath.Join(a.Config.Export.Dir, opts.TestID+".csv")
		opts.PNGPath = filepath.Join(a.Config.Export.Dir, opts.TestID+".png")
	}
	if opts.Range == "" {
		opts.Range = a.Config.Export.DefaultRange
	}

	store, closeStore, err := a.requireStore(ctx, "export")
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := a.newService(store, nil, nil).Analytics(ctx, opts.TestID, opts.Range)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Str("test_id", opts.TestID).
		Str("range", report.DateRange.Key).
		Int("variations", len(report.VariationPerformance)).
		Msg("exporting test report")

	if opts.CSVPath != "" {
		if err := writeReportCSVFile(opts.CSVPath, report); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, report.ChartData, a.Config.Export.ChartWidth, a.Config.Export.ChartHeight); err != nil {
			return err
		}
	}

	return nil
}

func writeReportCSVFile(path string, report service.Analytics) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return writeReportCSV(file, report)
}

// writeReportCSV emits per-variation rows followed by SUMMARY and TIME SERIES
// DATA sections, separated by blank records.
func writeReportCSV(out io.Writer, report service.Analytics) error {
	writer := csv.NewWriter(out)
	writer.FieldsPerRecord = -1

	header := []string{"Variant", "Label", "Price", "Visitors", "Conversions", "Add to Cart", "Conversion Rate (%)", "Revenue ($)", "Revenue per Visitor ($)", "Traffic Percentage (%)", "Is Control"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range report.VariationPerformance {
		isControl := "No"
		if p.IsControl {
			isControl = "Yes"
		}
		record := []string{
			p.Variation,
			p.Label,
			p.Price.String(),
			strconv.Itoa(p.Visitors),
			strconv.Itoa(p.Conversions),
			strconv.Itoa(p.AddToCart),
			fixed(p.ConversionRate, 2),
			fixed(p.Revenue, 2),
			fixed(p.RevenuePerVisitor, 2),
			fixed(p.TrafficPercentage, 1),
			isControl,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	k := report.KPIs
	summary := [][]string{
		{""},
		{"SUMMARY"},
		{"Total Visitors", strconv.Itoa(k.TotalVisitors)},
		{"Total Conversions", strconv.Itoa(k.TotalConversions)},
		{"Total Revenue", "$" + fixed(k.TotalRevenue, 2)},
		{"Overall Conversion Rate", fixed(k.ConversionRate, 2) + "%"},
		{"Revenue per Visitor", "$" + fixed(k.RevenuePerVisitor, 2)},
	}
	if err := writer.WriteAll(summary); err != nil {
		return err
	}

	if len(report.ChartData) > 0 {
		labels := seriesLabels(report.ChartData)
		seriesHeader := []string{"Date"}
		for _, l := range labels {
			seriesHeader = append(seriesHeader, l+" Conversions")
		}
		for _, l := range labels {
			seriesHeader = append(seriesHeader, l+" Revenue")
		}
		if err := writer.WriteAll([][]string{{""}, {"TIME SERIES DATA"}, seriesHeader}); err != nil {
			return err
		}

		for _, day := range report.ChartData {
			record := []string{day.Date}
			for _, l := range labels {
				record = append(record, strconv.Itoa(day.Variations[l].Conversions))
			}
			for _, l := range labels {
				record = append(record, fixed(day.Variations[l].Revenue, 2))
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func seriesLabels(points []analytics.DayPoint) []string {
	seen := make(map[string]struct{})
	for _, p := range points {
		for l := range p.Variations {
			seen[l] = struct{}{}
		}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func writeSeriesPNG(path string, points []analytics.DayPoint, width, height int) error {
	if len(points) == 0 {
		return errors.New("no series data to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	for i, p := range points {
		day, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			return fmt.Errorf("parse series date %q: %w", p.Date, err)
		}
		x[i] = day
	}

	var series []chart.Series
	for _, l := range seriesLabels(points) {
		revenue := make([]float64, len(points))
		conversions := make([]float64, len(points))
		for i, p := range points {
			revenue[i] = p.Variations[l].Revenue
			conversions[i] = float64(p.Variations[l].Conversions)
		}
		series = append(series,
			chart.TimeSeries{Name: l + " revenue", XValues: x, YValues: revenue},
			chart.TimeSeries{Name: l + " conversions", XValues: x, YValues: conversions, YAxis: chart.YAxisSecondary},
		)
	}

	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	revenueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Revenue ($)",
			ValueFormatter: revenueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Conversions",
			ValueFormatter: countFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func fixed(v float64, places int32) string {
	return formatDecimal(decimal.NewFromFloat(v), places)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
