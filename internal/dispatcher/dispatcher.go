// Package dispatcher runs dispatch rounds: it snapshots the registry when a
// round is due and invokes every target in the snapshot in isolation.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"upkeep-dispatcher/internal/domain"
	"upkeep-dispatcher/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const DefaultTargetTimeout = 30 * time.Second

// Eligibility answers whether a round may begin.
type Eligibility interface {
	IsDue(now time.Time) bool
}

// RunMarker is told once that a round completed.
type RunMarker interface {
	MarkRun(now time.Time)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTargetTimeout bounds every single refresh call.
func WithTargetTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithConcurrency sets how many refresh calls may be in flight. 1 is sequential.
func WithConcurrency(n int) Option {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.concurrency = n
		}
	}
}

// WithHaltCheck installs a check consulted before each invocation starts.
// Once it returns true the remaining targets of the round are skipped.
func WithHaltCheck(halted func() bool) Option {
	return func(disp *Dispatcher) {
		disp.halted = halted
	}
}

// WithClock overrides the clock used to time invocations.
func WithClock(now func() time.Time) Option {
	return func(disp *Dispatcher) {
		disp.clock = now
	}
}

// Dispatcher invokes refresh on snapshots of the registry.
type Dispatcher struct {
	registry    domain.TargetRegistry
	refreshers  map[domain.TargetKind]domain.Refresher
	sink        domain.EventSink
	timeout     time.Duration
	concurrency int
	halted      func() bool
	clock       func() time.Time
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New creates a dispatcher. refreshers maps each target kind to its transport.
func New(registry domain.TargetRegistry, refreshers map[domain.TargetKind]domain.Refresher, sink domain.EventSink, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:    registry,
		refreshers:  refreshers,
		sink:        sink,
		timeout:     DefaultTargetTimeout,
		concurrency: 1,
		halted:      func() bool { return false },
		clock:       time.Now,
		logger:      logger.With("component", "dispatcher"),
		tracer:      otel.Tracer("upkeep-dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CheckDue reports whether a round is due at now and, only if it is, returns
// a snapshot of the registry. It never mutates state.
func (d *Dispatcher) CheckDue(ctx context.Context, gate Eligibility, now time.Time) (bool, []string, error) {
	if !gate.IsDue(now) {
		return false, nil, nil
	}
	snapshot, err := d.registry.List(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to snapshot registry: %w", err)
	}
	return true, snapshot, nil
}

// Execute attempts every target of snapshot exactly once, in order when
// sequential. Failures are recorded per target and never abort the round.
// marker.MarkRun(now) is called once, after all attempts.
func (d *Dispatcher) Execute(ctx context.Context, roundID string, now time.Time, snapshot []string, marker RunMarker) *domain.RoundRecord {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Execute",
		trace.WithAttributes(
			attribute.String("round.id", roundID),
			attribute.Int("round.targets", len(snapshot)),
		))
	defer span.End()

	targets := append([]string(nil), snapshot...)
	record := &domain.RoundRecord{
		ID:        roundID,
		StartedAt: d.clock(),
		Targets:   targets,
		Outcomes:  make([]domain.TargetOutcome, len(targets)),
	}
	logger := d.logger.With("round_id", roundID)
	logger.Info("executing dispatch round", "targets", len(targets), "concurrency", d.concurrency)

	if d.concurrency <= 1 {
		for i, target := range targets {
			record.Outcomes[i] = d.attempt(ctx, roundID, target)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.concurrency)
		for i, target := range targets {
			g.Go(func() error {
				record.Outcomes[i] = d.attempt(ctx, roundID, target)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, o := range record.Outcomes {
		switch o.Status {
		case domain.OutcomeFailed:
			record.Failed++
		case domain.OutcomeSkipped:
			record.Skipped++
		}
	}

	marker.MarkRun(now)
	record.FinishedAt = d.clock()
	metrics.RoundDurationSeconds.Observe(record.FinishedAt.Sub(record.StartedAt).Seconds())

	d.sink.Emit(ctx, domain.Event{
		Type:    domain.EventRoundExecuted,
		Time:    now,
		RoundID: roundID,
		Targets: targets,
		Count:   record.Attempted(),
		Failed:  record.Failed,
	})
	span.SetAttributes(
		attribute.Int("round.failed", record.Failed),
		attribute.Int("round.skipped", record.Skipped),
	)
	if record.Failed > 0 {
		span.SetStatus(codes.Error, "some targets failed")
	}
	logger.Info("dispatch round completed", "attempted", record.Attempted(), "failed", record.Failed, "skipped", record.Skipped)
	return record
}

// attempt invokes one target unless the dispatcher was halted, and reports the outcome.
func (d *Dispatcher) attempt(ctx context.Context, roundID, target string) domain.TargetOutcome {
	if d.halted() {
		d.sink.Emit(ctx, domain.Event{Type: domain.EventTargetRefreshSkipped, Time: d.clock(), RoundID: roundID, Target: target})
		return domain.TargetOutcome{Target: target, Status: domain.OutcomeSkipped}
	}

	ctx, span := d.tracer.Start(ctx, "dispatcher.Refresh", trace.WithAttributes(attribute.String("target", target)))
	defer span.End()

	start := d.clock()
	err := d.invoke(ctx, target)
	outcome := domain.TargetOutcome{Target: target, Status: domain.OutcomeSuccess, Duration: d.clock().Sub(start)}
	if err != nil {
		outcome.Status = domain.OutcomeFailed
		outcome.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		d.sink.Emit(ctx, domain.Event{Type: domain.EventTargetRefreshFailed, Time: d.clock(), RoundID: roundID, Target: target, Error: err.Error()})
		return outcome
	}
	d.sink.Emit(ctx, domain.Event{Type: domain.EventTargetRefreshed, Time: d.clock(), RoundID: roundID, Target: target})
	return outcome
}

var errTimeout = errors.New("refresh timed out")

// invoke calls the refresher for target under the per-target timeout. A
// refresher that ignores its context still cannot hold the round past the timeout.
func (d *Dispatcher) invoke(ctx context.Context, target string) error {
	kind, err := domain.KindOf(target)
	if err != nil {
		return err
	}
	refresher, ok := d.refreshers[kind]
	if !ok {
		return fmt.Errorf("no refresher configured for %s targets", kind)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("refresh panicked: %v", r)
			}
		}()
		done <- refresher.Refresh(callCtx, target)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", errTimeout, d.timeout)
		}
		return callCtx.Err()
	}
}
