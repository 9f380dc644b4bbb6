package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts API requests by route, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upkeep_http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// RoundsTotal counts completed dispatch rounds.
	RoundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upkeep_rounds_total",
			Help: "Total number of completed dispatch rounds.",
		},
	)

	// TargetRefreshTotal counts refresh outcomes per target (success/failed/skipped).
	TargetRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upkeep_target_refresh_total",
			Help: "Total number of target refresh attempts by outcome.",
		},
		[]string{"target", "status"},
	)

	RoundDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upkeep_round_duration_seconds",
			Help:    "Wall time spent executing a dispatch round.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "upkeep_last_run_timestamp_seconds",
			Help: "Unix time of the last completed dispatch round.",
		},
	)

	RegisteredTargets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "upkeep_registered_targets",
			Help: "Number of targets currently registered.",
		},
	)

	Paused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "upkeep_paused",
			Help: "1 if the dispatcher is paused, 0 otherwise.",
		},
	)

	// IsLeader marks whether this node currently drives rounds.
	IsLeader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upkeep_is_leader",
			Help: "Is this node currently the leader. 1 if leader, 0 otherwise.",
		},
		[]string{"node_id"},
	)
)
