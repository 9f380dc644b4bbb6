package events

import (
	"context"

	"upkeep-dispatcher/internal/domain"
	"upkeep-dispatcher/internal/metrics"
)

// MetricsSink turns events into Prometheus updates. CountTargets makes it
// maintain the registered targets gauge, for deployments with no etcd watcher.
type MetricsSink struct {
	CountTargets bool
}

func (s MetricsSink) Emit(_ context.Context, e domain.Event) {
	switch e.Type {
	case domain.EventTargetRefreshed:
		metrics.TargetRefreshTotal.WithLabelValues(e.Target, string(domain.OutcomeSuccess)).Inc()
	case domain.EventTargetRefreshFailed:
		metrics.TargetRefreshTotal.WithLabelValues(e.Target, string(domain.OutcomeFailed)).Inc()
	case domain.EventTargetRefreshSkipped:
		metrics.TargetRefreshTotal.WithLabelValues(e.Target, string(domain.OutcomeSkipped)).Inc()
	case domain.EventRoundExecuted:
		metrics.RoundsTotal.Inc()
		metrics.LastRunTimestamp.Set(float64(e.Time.Unix()))
	case domain.EventTargetAdded:
		if s.CountTargets {
			metrics.RegisteredTargets.Inc()
		}
	case domain.EventTargetRemoved:
		if s.CountTargets {
			metrics.RegisteredTargets.Dec()
		}
	case domain.EventPaused:
		metrics.Paused.Set(1)
	case domain.EventUnpaused:
		metrics.Paused.Set(0)
	}
}
