// Package metrics exposes prometheus instrumentation for lifecycle
// operations and subprocess runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects service-level prometheus metrics. A nil *Metrics is a
// valid no-op collector so call sites never need to branch on whether
// metrics are enabled.
type Metrics struct {
	operations      *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	sweptBuckets    prometheus.Counter
	activeTemplates prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a metrics collector with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "terraflow"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_operations_total",
		Help:      "Lifecycle operations by operation and result.",
	}, []string{"operation", "result"})

	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "terraform_run_duration_seconds",
		Help:      "Wall-clock duration of terraform subprocess runs.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"subcommand"})

	m.sweptBuckets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swept_buckets_total",
		Help:      "Temporary buckets deleted by reconciliation sweeps.",
	})

	m.activeTemplates = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_templates",
		Help:      "Number of template records currently tracked.",
	})

	m.registry.MustRegister(m.operations, m.runDuration, m.sweptBuckets, m.activeTemplates)
	return m
}

// Handler returns the prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one lifecycle operation outcome.
func (m *Metrics) ObserveOperation(operation string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

// ObserveRun records one terraform subprocess duration.
func (m *Metrics) ObserveRun(subcommand string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(subcommand).Observe(d.Seconds())
}

// AddSweptBuckets counts buckets deleted by a sweep.
func (m *Metrics) AddSweptBuckets(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptBuckets.Add(float64(n))
}

// SetActiveTemplates records the current registry size.
func (m *Metrics) SetActiveTemplates(n int) {
	if m == nil {
		return
	}
	m.activeTemplates.Set(float64(n))
}
