package selection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// assembliesTotal counts assembly operations by result.
	// Labels: result (success, degraded, error)
	assembliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relevanced",
			Subsystem: "selection",
			Name:      "assemblies_total",
			Help:      "Total number of context assemblies by result",
		},
		[]string{"result"},
	)

	// injectedItems counts injected items by tier.
	injectedItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relevanced",
			Subsystem: "selection",
			Name:      "injected_items_total",
			Help:      "Total number of items injected into context windows by tier",
		},
		[]string{"tier"},
	)

	// degradedFetches counts candidate fetches that degraded to empty.
	// Labels: source (mandate, guardrail, reference, auto_inject, trigger, similarity, index)
	degradedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relevanced",
			Subsystem: "selection",
			Name:      "degraded_fetches_total",
			Help:      "Total number of candidate fetches that degraded to empty",
		},
		[]string{"source"},
	)

	// assemblyDuration tracks end-to-end assembly latency.
	assemblyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relevanced",
			Subsystem: "selection",
			Name:      "assembly_duration_seconds",
			Help:      "Duration of context assembly in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// assemblyTokens tracks how much of the token budget assemblies use.
	assemblyTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relevanced",
			Subsystem: "selection",
			Name:      "assembly_tokens",
			Help:      "Estimated token size of assembled context",
			Buckets:   []float64{64, 128, 256, 512, 1024, 2048, 4096, 8192},
		},
	)
)
