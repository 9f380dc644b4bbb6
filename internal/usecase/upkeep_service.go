package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"upkeep-dispatcher/internal/dispatcher"
	"upkeep-dispatcher/internal/domain"
	"upkeep-dispatcher/internal/gate"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Settings are the identities and defaults the service starts from.
type Settings struct {
	Owner string
	// Driver and MinWaitPeriod seed the state when none was persisted yet.
	Driver        string
	MinWaitPeriod time.Duration
	TargetTimeout time.Duration
	Concurrency   int
}

// Deps are the collaborators of UpkeepService. Locker may be nil.
type Deps struct {
	Registry   domain.TargetRegistry
	States     domain.StateStore
	Rounds     domain.RoundRepository
	Treasury   domain.Treasury
	Locker     domain.Locker
	Sink       domain.EventSink
	Refreshers map[domain.TargetKind]domain.Refresher
	Clock      func() time.Time
}

// UpkeepService is the dispatcher's entry point: the driver-facing Probe and
// Run, and the owner-only administration around them.
type UpkeepService struct {
	settings   Settings
	registry   domain.TargetRegistry
	states     domain.StateStore
	rounds     domain.RoundRepository
	treasury   domain.Treasury
	locker     domain.Locker
	sink       domain.EventSink
	dispatcher *dispatcher.Dispatcher
	clock      func() time.Time

	// mu serializes read-modify-write cycles on the persisted state.
	mu sync.Mutex
	// roundMu is held for the whole duration of a round.
	roundMu sync.Mutex
	paused  atomic.Bool

	logger *slog.Logger
	tracer trace.Tracer
}

// NewUpkeepService wires the service and its dispatcher.
func NewUpkeepService(settings Settings, deps Deps, logger *slog.Logger) *UpkeepService {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &UpkeepService{
		settings: settings,
		registry: deps.Registry,
		states:   deps.States,
		rounds:   deps.Rounds,
		treasury: deps.Treasury,
		locker:   deps.Locker,
		sink:     deps.Sink,
		clock:    clock,
		logger:   logger.With("component", "upkeep-service"),
		tracer:   otel.Tracer("upkeep-usecase"),
	}
	s.dispatcher = dispatcher.New(deps.Registry, deps.Refreshers, deps.Sink, logger,
		dispatcher.WithTargetTimeout(settings.TargetTimeout),
		dispatcher.WithConcurrency(settings.Concurrency),
		dispatcher.WithHaltCheck(s.paused.Load),
		dispatcher.WithClock(clock),
	)
	return s
}

// loadState returns the persisted state, seeded from Settings on first use.
// Callers hold s.mu.
func (s *UpkeepService) loadState(ctx context.Context) (*domain.DispatchState, error) {
	state, err := s.states.Load(ctx)
	if errors.Is(err, domain.ErrStateNotFound) {
		state = &domain.DispatchState{
			MinWaitPeriod: s.settings.MinWaitPeriod,
			Driver:        s.settings.Driver,
		}
	} else if err != nil {
		return nil, err
	}
	s.paused.Store(state.Paused)
	return state, nil
}

// maxStateAttempts bounds the retries of updateState under write contention.
const maxStateAttempts = 5

// updateState applies mutate to the latest stored state and saves it. When
// another writer saved in between, the cycle is retried on the fresh state.
// mutate reports whether it changed anything; unchanged states are not saved.
func (s *UpkeepService) updateState(ctx context.Context, mutate func(*domain.DispatchState) (bool, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for attempt := 1; attempt <= maxStateAttempts; attempt++ {
		var state *domain.DispatchState
		state, err = s.loadState(ctx)
		if err != nil {
			return false, err
		}
		changed, mErr := mutate(state)
		if mErr != nil || !changed {
			return false, mErr
		}
		err = s.saveState(ctx, state)
		if !errors.Is(err, domain.ErrStateConflict) {
			return err == nil, err
		}
		s.logger.Warn("dispatch state changed concurrently, retrying", "attempt", attempt)
	}
	return false, err
}

func (s *UpkeepService) saveState(ctx context.Context, state *domain.DispatchState) error {
	state.UpdatedAt = s.clock()
	if err := s.states.Save(ctx, state); err != nil {
		return err
	}
	s.paused.Store(state.Paused)
	return nil
}

// Probe reports whether a round is due and, if so, returns the encoded
// snapshot the driver must hand back to Run. It never mutates state.
func (s *UpkeepService) Probe(ctx context.Context, caller string) (bool, []byte, error) {
	ctx, span := s.tracer.Start(ctx, "service.Probe", trace.WithAttributes(attribute.String("caller", caller)))
	defer span.End()

	s.mu.Lock()
	state, err := s.loadState(ctx)
	s.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load state")
		return false, nil, err
	}
	if caller != state.Driver {
		return false, nil, domain.ErrWrongCaller
	}
	if state.Paused {
		return false, nil, domain.ErrPaused
	}

	now := s.clock()
	due, snapshot, err := s.dispatcher.CheckDue(ctx, gate.FromState(state), now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check eligibility")
		return false, nil, err
	}
	span.SetAttributes(attribute.Bool("due", due))
	if !due {
		return false, nil, nil
	}

	payload, err := dispatcher.EncodePayload(dispatcher.Payload{Targets: snapshot, IssuedAt: now})
	if err != nil {
		return false, nil, err
	}
	span.SetAttributes(attribute.Int("targets", len(snapshot)))
	return true, payload, nil
}

// Run executes a round over the targets named in payload. Authorization,
// pause, eligibility and the payload itself are validated again here; any
// rejection leaves state untouched and invokes no target. Target failures are
// recorded in the returned round and never turn into an error.
func (s *UpkeepService) Run(ctx context.Context, caller string, payload []byte) (*domain.RoundRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.Run", trace.WithAttributes(attribute.String("caller", caller)))
	defer span.End()

	record, err := s.run(ctx, caller, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "round rejected")
		s.logger.Warn("round rejected", "caller", caller, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("round.id", record.ID), attribute.Int("round.failed", record.Failed))
	return record, nil
}

func (s *UpkeepService) run(ctx context.Context, caller string, payload []byte) (*domain.RoundRecord, error) {
	if err := s.checkDriver(ctx, caller); err != nil {
		return nil, err
	}

	decoded, err := dispatcher.DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	if err := checkUnique(decoded.Targets); err != nil {
		return nil, err
	}

	if !s.roundMu.TryLock() {
		return nil, domain.ErrRoundInProgress
	}
	defer s.roundMu.Unlock()

	if s.locker != nil {
		lock, err := s.locker.Lock(ctx, domain.RoundLockName)
		if errors.Is(err, domain.ErrLockNotAcquired) {
			return nil, domain.ErrRoundInProgress
		}
		if err != nil {
			return nil, fmt.Errorf("failed to acquire round lock: %w", err)
		}
		defer func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Unlock(unlockCtx); err != nil {
				s.logger.Error("failed to release round lock", "error", err)
			}
		}()
	}

	// Re-validate under the round lock: another replica or a concurrent
	// admin call may have changed the state since the caller probed.
	s.mu.Lock()
	state, err := s.loadState(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if caller != state.Driver {
		return nil, domain.ErrWrongCaller
	}
	if state.Paused {
		return nil, domain.ErrPaused
	}
	now := s.clock()
	g := gate.FromState(state)
	if !g.IsDue(now) {
		return nil, domain.ErrNotDue
	}
	// Payloads carry millisecond timestamps.
	if decoded.IssuedAt.Before(state.LastRun.Truncate(time.Millisecond)) {
		return nil, fmt.Errorf("%w: issued at %s, before the last round at %s",
			domain.ErrStalePayload, decoded.IssuedAt.Format(time.RFC3339Nano), state.LastRun.Format(time.RFC3339Nano))
	}
	for _, t := range decoded.Targets {
		ok, err := s.registry.Contains(ctx, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s is not registered", domain.ErrStalePayload, t)
		}
	}

	// A round always completes once started, even if the caller goes away.
	execCtx := context.WithoutCancel(ctx)
	record := s.dispatcher.Execute(execCtx, uuid.NewString(), now, decoded.Targets, g)

	if err := s.commitRun(execCtx, g.LastRun()); err != nil {
		// The round has run; losing the timer update only risks an early next round.
		s.logger.Error("failed to persist last run", "round_id", record.ID, "error", err)
	}
	if err := s.rounds.Save(execCtx, record); err != nil {
		s.logger.Error("failed to save round record", "round_id", record.ID, "error", err)
	}
	return record, nil
}

// commitRun advances the persisted LastRun, keeping admin changes made during the round.
func (s *UpkeepService) commitRun(ctx context.Context, lastRun time.Time) error {
	_, err := s.updateState(ctx, func(state *domain.DispatchState) (bool, error) {
		g := gate.FromState(state)
		g.MarkRun(lastRun)
		g.Apply(state)
		return true, nil
	})
	return err
}

func (s *UpkeepService) checkDriver(ctx context.Context, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.loadState(ctx)
	if err != nil {
		return err
	}
	if caller != state.Driver {
		return domain.ErrWrongCaller
	}
	if state.Paused {
		return domain.ErrPaused
	}
	return nil
}

func checkUnique(targets []string) error {
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if _, ok := seen[t]; ok {
			return fmt.Errorf("%w: duplicate target %s", domain.ErrInvalidPayload, t)
		}
		seen[t] = struct{}{}
	}
	return nil
}

// Halted reports whether the dispatcher is paused.
func (s *UpkeepService) Halted() bool {
	return s.paused.Load()
}

// ObservePaused applies a pause flag persisted by another replica. A running
// round sees it before starting its next invocation.
func (s *UpkeepService) ObservePaused(paused bool) {
	s.paused.Store(paused)
}
