package usecase

import (
	"context"
	"fmt"
	"time"

	"upkeep-dispatcher/internal/domain"
	"upkeep-dispatcher/internal/gate"
	"upkeep-dispatcher/internal/registry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StateView is the externally visible dispatcher state.
type StateView struct {
	domain.DispatchState
	Owner   string    `json:"owner"`
	NextDue time.Time `json:"next_due"`
	DueNow  bool      `json:"due_now"`
}

func (s *UpkeepService) requireOwner(caller string) error {
	if caller == "" || caller != s.settings.Owner {
		return domain.ErrUnauthorized
	}
	return nil
}

// AddTargets registers ids. Every id is validated first, so an invalid id
// aborts the call before any target is added.
func (s *UpkeepService) AddTargets(ctx context.Context, caller string, ids []string) ([]registry.Change, error) {
	ctx, span := s.tracer.Start(ctx, "service.AddTargets", trace.WithAttributes(attribute.Int("targets", len(ids))))
	defer span.End()

	if err := s.requireOwner(caller); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := domain.ValidateTargetID(id); err != nil {
			return nil, err
		}
	}

	changes, err := registry.AddBatch(ctx, s.registry, ids)
	s.emitChanges(ctx, caller, changes, domain.EventTargetAdded, domain.EventTargetAlreadyPresent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to add targets")
		return changes, err
	}
	return changes, nil
}

// RemoveTargets deregisters ids. Absent ids are reported, not rejected.
func (s *UpkeepService) RemoveTargets(ctx context.Context, caller string, ids []string) ([]registry.Change, error) {
	ctx, span := s.tracer.Start(ctx, "service.RemoveTargets", trace.WithAttributes(attribute.Int("targets", len(ids))))
	defer span.End()

	if err := s.requireOwner(caller); err != nil {
		return nil, err
	}

	changes, err := registry.RemoveBatch(ctx, s.registry, ids)
	s.emitChanges(ctx, caller, changes, domain.EventTargetRemoved, domain.EventTargetNotPresent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to remove targets")
		return changes, err
	}
	return changes, nil
}

func (s *UpkeepService) emitChanges(ctx context.Context, caller string, changes []registry.Change, changed, unchanged domain.EventType) {
	for _, c := range changes {
		t := unchanged
		if c.Changed {
			t = changed
		}
		s.sink.Emit(ctx, domain.Event{Type: t, Time: s.clock(), Caller: caller, Target: c.Target})
	}
}

// ListTargets returns a snapshot of the registry.
func (s *UpkeepService) ListTargets(ctx context.Context) ([]string, error) {
	return s.registry.List(ctx)
}

// SetMinWaitPeriod changes the minimum time between rounds. It applies to the
// next eligibility check.
func (s *UpkeepService) SetMinWaitPeriod(ctx context.Context, caller string, d time.Duration) error {
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("%w: min wait period cannot be negative", domain.ErrInvalidArgument)
	}

	var prev time.Duration
	if _, err := s.updateState(ctx, func(state *domain.DispatchState) (bool, error) {
		g := gate.FromState(state)
		prev = g.SetMinWaitPeriod(d)
		g.Apply(state)
		return true, nil
	}); err != nil {
		return err
	}
	s.sink.Emit(ctx, domain.Event{
		Type:   domain.EventMinWaitPeriodUpdated,
		Time:   s.clock(),
		Caller: caller,
		Old:    prev.String(),
		New:    d.String(),
	})
	return nil
}

// SetDriver changes the identity allowed to call Probe and Run.
func (s *UpkeepService) SetDriver(ctx context.Context, caller, driver string) error {
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	if driver == "" {
		return fmt.Errorf("%w: driver identity cannot be empty", domain.ErrInvalidArgument)
	}

	var prev string
	if _, err := s.updateState(ctx, func(state *domain.DispatchState) (bool, error) {
		prev = state.Driver
		state.Driver = driver
		return true, nil
	}); err != nil {
		return err
	}
	s.sink.Emit(ctx, domain.Event{Type: domain.EventDriverUpdated, Time: s.clock(), Caller: caller, Old: prev, New: driver})
	return nil
}

// Pause stops new rounds and any not-yet-started invocation of a running round.
func (s *UpkeepService) Pause(ctx context.Context, caller string) error {
	return s.setPaused(ctx, caller, true)
}

func (s *UpkeepService) Unpause(ctx context.Context, caller string) error {
	return s.setPaused(ctx, caller, false)
}

func (s *UpkeepService) setPaused(ctx context.Context, caller string, paused bool) error {
	if err := s.requireOwner(caller); err != nil {
		return err
	}

	changed, err := s.updateState(ctx, func(state *domain.DispatchState) (bool, error) {
		if state.Paused == paused {
			return false, nil
		}
		state.Paused = paused
		return true, nil
	})
	if err != nil || !changed {
		return err
	}
	t := domain.EventUnpaused
	if paused {
		t = domain.EventPaused
	}
	s.sink.Emit(ctx, domain.Event{Type: t, Time: s.clock(), Caller: caller})
	return nil
}

// Withdraw sends amount of the native balance to the owner; 0 sends all of it.
func (s *UpkeepService) Withdraw(ctx context.Context, caller string, amount uint64) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "service.Withdraw")
	defer span.End()

	if err := s.requireOwner(caller); err != nil {
		return 0, err
	}
	sent, err := s.transferToOwner(ctx, domain.NativeToken, amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "withdraw failed")
		return 0, err
	}
	s.sink.Emit(ctx, domain.Event{Type: domain.EventBalanceWithdrawn, Time: s.clock(), Caller: caller, Amount: sent, To: s.settings.Owner})
	return sent, nil
}

// Sweep sends the whole balance of token to the owner.
func (s *UpkeepService) Sweep(ctx context.Context, caller, token string) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "service.Sweep", trace.WithAttributes(attribute.String("token", token)))
	defer span.End()

	if err := s.requireOwner(caller); err != nil {
		return 0, err
	}
	if token == domain.NativeToken {
		return 0, fmt.Errorf("%w: token is required, use withdraw for the native balance", domain.ErrInvalidArgument)
	}
	sent, err := s.transferToOwner(ctx, token, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		return 0, err
	}
	s.sink.Emit(ctx, domain.Event{Type: domain.EventTokenSwept, Time: s.clock(), Caller: caller, Token: token, Amount: sent, To: s.settings.Owner})
	return sent, nil
}

func (s *UpkeepService) transferToOwner(ctx context.Context, token string, amount uint64) (uint64, error) {
	if amount == 0 {
		balance, err := s.treasury.Balance(ctx, token)
		if err != nil {
			return 0, fmt.Errorf("failed to read balance: %w", err)
		}
		amount = balance
	}
	if err := s.treasury.Transfer(ctx, token, s.settings.Owner, amount); err != nil {
		return 0, fmt.Errorf("failed to transfer %d to owner: %w", amount, err)
	}
	return amount, nil
}

// State returns the current state and when the next round becomes due.
func (s *UpkeepService) State(ctx context.Context) (*StateView, error) {
	s.mu.Lock()
	state, err := s.loadState(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	g := gate.FromState(state)
	return &StateView{
		DispatchState: *state,
		Owner:         s.settings.Owner,
		NextDue:       g.NextDue(),
		DueNow:        g.IsDue(s.clock()),
	}, nil
}

// Rounds lists round records newest first. Out-of-range paging falls back
// to the first page and the default page size.
func (s *UpkeepService) Rounds(ctx context.Context, page, pageSize int) ([]*domain.RoundRecord, error) {
	page, pageSize = domain.NormalizePage(page, pageSize)
	return s.rounds.List(ctx, page, pageSize)
}

func (s *UpkeepService) Round(ctx context.Context, id string) (*domain.RoundRecord, error) {
	return s.rounds.Get(ctx, id)
}
