package cluster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// adjudicationsTotal counts disambiguation calls by outcome.
	// Labels: decision (rephrase, variation, error)
	adjudicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relevanced",
			Subsystem: "cluster",
			Name:      "adjudications_total",
			Help:      "Total number of disambiguation calls by decision",
		},
		[]string{"decision"},
	)

	// recordsTotal counts recorded items by clustering outcome.
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relevanced",
			Subsystem: "cluster",
			Name:      "records_total",
			Help:      "Total number of recorded items by clustering outcome",
		},
		[]string{"outcome"},
	)

	// promotedItemsTotal counts items promoted from task to project scope.
	promotedItemsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relevanced",
			Subsystem: "cluster",
			Name:      "promoted_items_total",
			Help:      "Total number of items promoted to project scope by consolidation",
		},
	)
)
