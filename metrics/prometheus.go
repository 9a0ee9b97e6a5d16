package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Store metrics
	storeOps         *prometheus.CounterVec
	storeOpenRetries *prometheus.CounterVec
	storeLatency     *prometheus.HistogramVec

	// State machine metrics
	transitions *prometheus.CounterVec

	// Forwarding metrics
	forwardTasks    *prometheus.CounterVec
	forwardInFlight prometheus.Gauge
	forwardDuration *prometheus.HistogramVec

	// Ack metrics
	acks *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: registry,

		storeOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of persistent store operations",
			},
			[]string{"table", "op", "result"},
		),
		storeOpenRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_open_retries_total",
				Help:      "Total number of store opens retried because the backing file was locked",
			},
			[]string{"table"},
		),
		storeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_latency_seconds",
				Help:      "Persistent store operation latency including open and close",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"table", "op"},
		),

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Total number of persisted state transitions",
			},
			[]string{"machine", "status"},
		),

		forwardTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forward_tasks_total",
				Help:      "Total number of detached forwarding tasks by outcome",
			},
			[]string{"kind", "result"},
		),
		forwardInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "forward_tasks_in_flight",
				Help:      "Number of forwarding tasks currently running",
			},
		),
		forwardDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "forward_duration_seconds",
				Help:      "Duration of forwarding task attempts",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		acks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acks_total",
				Help:      "Total number of acks returned by inbound handlers",
			},
			[]string{"method", "status"},
		),
	}

	registry.MustRegister(
		m.storeOps,
		m.storeOpenRetries,
		m.storeLatency,
		m.transitions,
		m.forwardTasks,
		m.forwardInFlight,
		m.forwardDuration,
		m.acks,
	)

	return m
}

// Store metrics

func (m *PrometheusMetrics) IncStoreOps(table, op, result string) {
	m.storeOps.WithLabelValues(table, op, result).Inc()
}

func (m *PrometheusMetrics) IncStoreOpenRetries(table string) {
	m.storeOpenRetries.WithLabelValues(table).Inc()
}

func (m *PrometheusMetrics) ObserveStoreLatency(table, op string, latency time.Duration) {
	m.storeLatency.WithLabelValues(table, op).Observe(latency.Seconds())
}

// State machine metrics

func (m *PrometheusMetrics) IncTransitions(machine, status string) {
	m.transitions.WithLabelValues(machine, status).Inc()
}

// Forwarding metrics

func (m *PrometheusMetrics) IncForwardTasks(kind, result string) {
	m.forwardTasks.WithLabelValues(kind, result).Inc()
}

func (m *PrometheusMetrics) SetForwardTasksInFlight(n int) {
	m.forwardInFlight.Set(float64(n))
}

func (m *PrometheusMetrics) ObserveForwardDuration(kind string, d time.Duration) {
	m.forwardDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Ack metrics

func (m *PrometheusMetrics) IncAcks(method, status string) {
	m.acks.WithLabelValues(method, status).Inc()
}

// Registry returns the underlying Prometheus registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler returns a typed HTTP handler for serving metrics.
func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

// Ensure PrometheusMetrics implements Metrics.
var _ Metrics = (*PrometheusMetrics)(nil)
