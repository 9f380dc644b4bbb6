// Package events contains domain.EventSink implementations.
package events

import (
	"context"
	"log/slog"

	"upkeep-dispatcher/internal/domain"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) Emit(ctx context.Context, e domain.Event) {
	level := slog.LevelInfo
	switch e.Type {
	case domain.EventTargetRefreshFailed:
		level = slog.LevelWarn
	case domain.EventTargetRefreshed, domain.EventTargetAlreadyPresent, domain.EventTargetNotPresent:
		level = slog.LevelDebug
	}

	attrs := []slog.Attr{slog.String("event", string(e.Type))}
	if e.Caller != "" {
		attrs = append(attrs, slog.String("caller", e.Caller))
	}
	if e.RoundID != "" {
		attrs = append(attrs, slog.String("round_id", e.RoundID))
	}
	if e.Target != "" {
		attrs = append(attrs, slog.String("target", e.Target))
	}
	if len(e.Targets) > 0 {
		attrs = append(attrs, slog.Int("targets", len(e.Targets)))
	}
	if e.Type == domain.EventRoundExecuted {
		attrs = append(attrs, slog.Int("count", e.Count), slog.Int("failed", e.Failed))
	}
	if e.Old != "" || e.New != "" {
		attrs = append(attrs, slog.String("old", e.Old), slog.String("new", e.New))
	}
	if e.Amount > 0 {
		attrs = append(attrs, slog.String("token", e.Token), slog.Uint64("amount", e.Amount), slog.String("to", e.To))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	s.logger.LogAttrs(ctx, level, "event", attrs...)
}
