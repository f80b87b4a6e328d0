// Package metrics holds the cockpit's Prometheus collectors. Collectors register
// with the default registry, which the service exposes at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cockpit"

var (
	AdapterDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "fetch_duration_seconds",
			Help:      "Upstream adapter fetch latency.",
			Buckets:   []float64{.025, .05, .1, .2, .4, .8, 1.6},
		},
		[]string{"source"},
	)

	AdapterFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "failures_total",
			Help:      "Adapter fetches that returned an empty result and raised degraded mode.",
		},
		[]string{"source", "reason"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Summary cache lookups by result.",
		},
		[]string{"result"},
	)

	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Summary cache writes by Today-State.",
		},
		[]string{"state"},
	)

	TodayStates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "today_state_total",
			Help:      "Selected Today-State per computed summary.",
		},
		[]string{"state"},
	)

	DegradedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_responses_total",
			Help:      "Summaries computed in degraded mode.",
		},
	)

	DegradedChains = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chainhealth",
			Name:      "degraded_chains",
			Help:      "Chains whose data provider is currently considered degraded.",
		},
	)

	DigestsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "digest",
			Name:      "generated_total",
			Help:      "Daily pulses generated by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notification decisions by outcome.",
		},
		[]string{"outcome"},
	)

	ShownPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "suppression",
			Name:      "pruned_total",
			Help:      "Expired suppression rows deleted.",
		},
	)

	ServiceHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_healthy",
			Help:      "1 when every health dependency is up.",
		},
	)
)
