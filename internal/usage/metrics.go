package usage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// flushesTotal counts flush operations by result.
	// Labels: result (success, error)
	flushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relevanced",
			Subsystem: "usage",
			Name:      "flushes_total",
			Help:      "Total number of usage flush operations by result",
		},
		[]string{"result"},
	)

	// flushedDeltas counts per-item deltas successfully written.
	flushedDeltas = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relevanced",
			Subsystem: "usage",
			Name:      "flushed_deltas_total",
			Help:      "Total number of per-item usage deltas written to the store",
		},
	)

	// bufferedLoads counts loaded increments recorded into the buffer.
	bufferedLoads = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relevanced",
			Subsystem: "usage",
			Name:      "buffered_loads_total",
			Help:      "Total number of loaded counters recorded",
		},
	)

	// bufferedReferences counts referenced increments recorded into the buffer.
	bufferedReferences = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relevanced",
			Subsystem: "usage",
			Name:      "buffered_references_total",
			Help:      "Total number of referenced counters recorded",
		},
	)
)
