// Package metrics exposes Prometheus collectors for the execution pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	executions   *prometheus.CounterVec
	pollAttempts prometheus.Histogram
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	testCases    *prometheus.CounterVec
	inFlight     prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "develevate_judge_executions_total",
			Help: "Remote executions by final verdict.",
		}, []string{"verdict"}),
		pollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "develevate_judge_poll_attempts",
			Help:    "Poll attempts needed per remote execution.",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "develevate_runs_total",
			Help: "Orchestrated runs by terminal state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "develevate_run_duration_seconds",
			Help:    "Wall time of an orchestrated run.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		testCases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "develevate_test_cases_total",
			Help: "Evaluated test cases by outcome.",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "develevate_judge_in_flight",
			Help: "Test case executions currently admitted.",
		}),
	}
	m.registry.MustRegister(m.executions, m.pollAttempts, m.runs, m.runDuration, m.testCases, m.inFlight)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveExecution(verdict string, polls int) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(verdict).Inc()
	if polls > 0 {
		m.pollAttempts.Observe(float64(polls))
	}
}

func (m *Metrics) ObserveRun(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTestCase(passed bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.testCases.WithLabelValues(outcome).Inc()
}

func (m *Metrics) InFlightAdd(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}
