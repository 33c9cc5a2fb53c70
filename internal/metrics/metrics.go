package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricetest"

// Assignment outcomes.
const (
	OutcomeAssigned   = "assigned"
	OutcomeFallback   = "fallback"
	OutcomeNoTest     = "no_test"
	OutcomeIneligible = "ineligible"
	OutcomePreview    = "preview"
)

var (
	// assignments counts storefront assignment requests by outcome.
	assignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "requests_total",
		Help:      "Storefront assignment requests by outcome",
	}, []string{"outcome"})

	// events counts ingested visitor events.
	// Labels: type (page_view, add_to_cart, purchase), status (stored, rejected, throttled)
	events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "ingested_total",
		Help:      "Visitor events received by type and status",
	}, []string{"type", "status"})

	// ruleResults counts automation rule evaluations.
	// Labels: result (executed, skipped, failed)
	ruleResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "automation",
		Name:      "rule_results_total",
		Help:      "Automation rule evaluations by result",
	}, []string{"result"})

	// sweepDuration measures one automation sweep over all running tests.
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "automation",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of scheduled automation sweeps",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// completions counts tests completed by the sweep.
	completions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "automation",
		Name:      "tests_completed_total",
		Help:      "Running tests moved to Completed after their duration elapsed",
	})
)

// RecordAssignment counts one assignment request.
func RecordAssignment(outcome string) {
	assignments.WithLabelValues(outcome).Inc()
}

// RecordEvent counts one ingested event.
func RecordEvent(eventType, status string) {
	events.WithLabelValues(eventType, status).Inc()
}

// RecordRules adds the per-rule tallies of one automation run.
func RecordRules(executed, skipped, failed int) {
	ruleResults.WithLabelValues("executed").Add(float64(executed))
	ruleResults.WithLabelValues("skipped").Add(float64(skipped))
	ruleResults.WithLabelValues("failed").Add(float64(failed))
}

// ObserveSweep records how long a sweep took.
func ObserveSweep(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

// RecordCompletion counts one auto-completed test.
func RecordCompletion() {
	completions.Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
