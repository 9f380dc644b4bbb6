// Package scheduler drives dispatch rounds from a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"log/slog"

	"upkeep-dispatcher/internal/domain"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UpkeepDriver is the driver-facing side of the dispatcher.
type UpkeepDriver interface {
	Probe(ctx context.Context, caller string) (bool, []byte, error)
	Run(ctx context.Context, caller string, payload []byte) (*domain.RoundRecord, error)
}

// CronTrigger polls the dispatcher on a cron schedule, acting as the driver identity.
type CronTrigger struct {
	cron     *cron.Cron
	schedule string
	identity string
	upkeep   UpkeepDriver
	entryID  cron.EntryID
	logger   *slog.Logger
	tracer   trace.Tracer
}

var _ domain.Trigger = (*CronTrigger)(nil)

// NewCronTrigger registers a tick on schedule. Ticks never overlap: a tick
// that fires while the previous one is still running is skipped.
func NewCronTrigger(schedule, identity string, upkeep UpkeepDriver, logger *slog.Logger) (*CronTrigger, error) {
	t := &CronTrigger{
		schedule: schedule,
		identity: identity,
		upkeep:   upkeep,
		logger:   logger.With("component", "cron-trigger"),
		tracer:   otel.Tracer("upkeep-scheduler"),
	}
	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(t.logger.Handler(), slog.LevelDebug))
	t.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	id, err := t.cron.AddFunc(schedule, t.Tick)
	if err != nil {
		return nil, err
	}
	t.entryID = id
	return t, nil
}

// Start runs the cron loop until ctx is canceled.
func (t *CronTrigger) Start(ctx context.Context) error {
	t.logger.Info("cron trigger started", "schedule", t.schedule)
	t.cron.Start()
	<-ctx.Done()
	t.Stop()
	return ctx.Err()
}

// Stop stops the cron loop and waits for a running tick to finish.
func (t *CronTrigger) Stop() {
	stopCtx := t.cron.Stop()
	<-stopCtx.Done()
	t.logger.Info("cron trigger stopped")
}

// Tick probes once and runs a round when one is due.
func (t *CronTrigger) Tick() {
	ctx, span := t.tracer.Start(context.Background(), "scheduler.Tick",
		trace.WithAttributes(attribute.String("driver", t.identity)))
	defer span.End()

	due, payload, err := t.upkeep.Probe(ctx, t.identity)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPaused):
			t.logger.Debug("dispatcher paused, skipping tick")
			return
		case errors.Is(err, domain.ErrWrongCaller):
			// Driving was handed to another identity.
			t.logger.Debug("not the authorized driver, skipping tick", "identity", t.identity)
			return
		}
		t.logger.Error("probe failed", "error", err)
		span.RecordError(err)
		return
	}
	if !due {
		t.logger.Debug("round not due")
		return
	}

	record, err := t.upkeep.Run(ctx, t.identity, payload)
	if err != nil {
		t.logger.Warn("round not executed", "error", err)
		span.RecordError(err)
		return
	}
	span.SetAttributes(attribute.String("round.id", record.ID))
	t.logger.Info("round executed", "round_id", record.ID, "targets", len(record.Targets), "failed", record.Failed)
}
