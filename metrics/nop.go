package metrics

import (
	"net/http"
	"time"
)

// NopMetrics is a no-op implementation of the Metrics interface.
// Use this when metrics collection is disabled.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics instance.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

func (m *NopMetrics) IncStoreOps(table, op, result string)                        {}
func (m *NopMetrics) IncStoreOpenRetries(table string)                            {}
func (m *NopMetrics) ObserveStoreLatency(table, op string, latency time.Duration) {}
func (m *NopMetrics) IncTransitions(machine, status string)                       {}
func (m *NopMetrics) IncForwardTasks(kind, result string)                         {}
func (m *NopMetrics) SetForwardTasksInFlight(n int)                               {}
func (m *NopMetrics) ObserveForwardDuration(kind string, d time.Duration)         {}
func (m *NopMetrics) IncAcks(method, status string)                               {}

// HTTPHandler returns a handler that responds 404.
func (m *NopMetrics) HTTPHandler() http.Handler {
	return http.NotFoundHandler()
}

// Ensure NopMetrics implements Metrics.
var _ Metrics = (*NopMetrics)(nil)
