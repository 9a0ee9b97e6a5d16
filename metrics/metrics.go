// Package metrics provides Prometheus and no-op implementations of the
// relay metrics interface.
package metrics

import (
	"net/http"
	"time"
)

// Metrics defines the interface for collecting relay metrics.
// All methods are safe for concurrent use.
type Metrics interface {
	// Store metrics
	IncStoreOps(table, op, result string)
	IncStoreOpenRetries(table string)
	ObserveStoreLatency(table, op string, latency time.Duration)

	// State machine metrics
	IncTransitions(machine, status string)

	// Forwarding task metrics
	IncForwardTasks(kind, result string)
	SetForwardTasksInFlight(n int)
	ObserveForwardDuration(kind string, d time.Duration)

	// Protocol acks returned by inbound handlers
	IncAcks(method, status string)

	// HTTPHandler returns the handler serving the metrics endpoint.
	HTTPHandler() http.Handler
}
