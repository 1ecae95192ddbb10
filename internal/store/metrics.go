package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts store operations.
	// Labels: provider (chromem, qdrant, sqlite), operation, result
	// (success, error).
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relevanced",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total store operations by provider, operation, and result",
		},
		[]string{"provider", "operation", "result"},
	)

	// operationDuration tracks store operation latency.
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relevanced",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)
)

// observe records one operation's outcome and latency.
func observe(provider, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(provider, operation, result).Inc()
	operationDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}
