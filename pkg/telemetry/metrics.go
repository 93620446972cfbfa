package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for reconciliation runs. A nil
// *Metrics is valid and records nothing, so call sites never need to
// guard instrumentation.
type Metrics struct {
	config MetricsConfig

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	rollbacksTotal    *prometheus.CounterVec
	errorsByCode      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total reconciliation operations by kind, operation, and outcome",
			},
			[]string{"resource_type", "operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of reconciliation operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"resource_type", "operation"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total retry attempts by operation",
			},
			[]string{"operation"},
		),
		rollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Total rollback invocations by outcome",
			},
			[]string{"status"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total classified control-plane errors by code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.retriesTotal,
		m.rollbacksTotal,
		m.errorsByCode,
	)
	return m
}

// ObserveOperation records one completed operation.
func (m *Metrics) ObserveOperation(resourceType, operation string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.operationsTotal.WithLabelValues(resourceType, operation, status).Inc()
	m.operationDuration.WithLabelValues(resourceType, operation).Observe(d.Seconds())
}

// ObserveRetry records one retry attempt.
func (m *Metrics) ObserveRetry(operation string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(operation).Inc()
}

// ObserveRollback records one compensating action run.
func (m *Metrics) ObserveRollback(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.rollbacksTotal.WithLabelValues(status).Inc()
}

// ObserveError records one classified error.
func (m *Metrics) ObserveError(code string) {
	if m == nil {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
