// Package metrics exposes Prometheus instruments for the quota ledger.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// LedgerOperations counts engine operations by name and outcome.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "meal_quota",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Ledger operations by operation and outcome.",
}, []string{"operation", "outcome"})

// LedgerOperationDuration tracks how long each operation took, store round
// trips included.
var LedgerOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "meal_quota",
	Subsystem: "ledger",
	Name:      "operation_duration_seconds",
	Help:      "Latency of ledger operations.",
	Buckets:   prometheus.DefBuckets,
}, []string{"operation"})

// PortionsMoved sums portions added and consumed by committed entries.
var PortionsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "meal_quota",
	Subsystem: "ledger",
	Name:      "portions_total",
	Help:      "Portions moved by committed ledger changes, by direction.",
}, []string{"direction"})

// CacheInvalidationFailures counts read-cache invalidations that failed
// after a commit.
var CacheInvalidationFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "meal_quota",
	Subsystem: "cache",
	Name:      "invalidation_failures_total",
	Help:      "Read cache invalidations that failed after a committed write.",
})

// EventPublishFailures counts ledger events that could not be published.
var EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "meal_quota",
	Subsystem: "events",
	Name:      "publish_failures_total",
	Help:      "Ledger events that could not be published.",
})

// ObserveOperation records one finished operation.
func ObserveOperation(op, outcome string, d time.Duration) {
	LedgerOperations.WithLabelValues(op, outcome).Inc()
	LedgerOperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveDelta records a committed balance change.
func ObserveDelta(delta int64) {
	switch {
	case delta > 0:
		PortionsMoved.WithLabelValues("in").Add(float64(delta))
	case delta < 0:
		PortionsMoved.WithLabelValues("out").Add(float64(-delta))
	}
}
