package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"upkeep-dispatcher/internal/domain"
	"upkeep-dispatcher/internal/events"
	"upkeep-dispatcher/internal/infra/memory"
	"upkeep-dispatcher/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner  = "owner"
	driver = "keeper"
)

type fakeRefresher struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]bool
	onCall func(target string)
}

func (f *fakeRefresher) Refresh(_ context.Context, target string) error {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall(target)
	}
	if f.fail[target] {
		return errors.New("simulated fault")
	}
	return nil
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLocker struct{ err error }

func (l fakeLocker) Lock(context.Context, string) (domain.Lock, error) { return nil, l.err }

type fixture struct {
	svc       *UpkeepService
	reg       *registry.Set
	states    *memory.StateStore
	rounds    *memory.RoundRepository
	ledger    *memory.Ledger
	recorder  *events.Recorder
	refresher *fakeRefresher
	now       time.Time
}

func newFixture(t *testing.T, minWait time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		reg:       registry.NewSet(),
		states:    memory.NewStateStore(),
		rounds:    memory.NewRoundRepository(),
		ledger:    memory.NewLedger(),
		recorder:  events.NewRecorder(0),
		refresher: &fakeRefresher{fail: map[string]bool{}},
		now:       time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewUpkeepService(Settings{
		Owner:         owner,
		Driver:        driver,
		MinWaitPeriod: minWait,
		TargetTimeout: time.Second,
		Concurrency:   1,
	}, Deps{
		Registry: f.reg,
		States:   f.states,
		Rounds:   f.rounds,
		Treasury: f.ledger,
		Sink:     f.recorder,
		Refreshers: map[domain.TargetKind]domain.Refresher{
			domain.TargetKindHTTP: f.refresher,
			domain.TargetKindGRPC: f.refresher,
		},
		Clock: func() time.Time { return f.now },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) addTargets(t *testing.T, ids ...string) {
	t.Helper()
	_, err := f.svc.AddTargets(context.Background(), owner, ids)
	require.NoError(t, err)
}

// probeAndRun performs one driver cycle and requires it to be due.
func (f *fixture) probeAndRun(t *testing.T) *domain.RoundRecord {
	t.Helper()
	ctx := context.Background()
	due, payload, err := f.svc.Probe(ctx, driver)
	require.NoError(t, err)
	require.True(t, due)
	record, err := f.svc.Run(ctx, driver, payload)
	require.NoError(t, err)
	return record
}

func TestUpkeep_FailingTargetIsIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	f.addTargets(t, "http://a", "http://b", "http://c")
	f.refresher.fail["http://b"] = true

	record := f.probeAndRun(t)

	assert.Equal(t, 3, f.refresher.count())
	assert.Equal(t, 1, record.Failed)
	failed := f.recorder.OfType(domain.EventTargetRefreshFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "http://b", failed[0].Target)
	assert.Len(t, f.recorder.OfType(domain.EventRoundExecuted), 1)

	state, err := f.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.now, state.LastRun)

	f.now = f.now.Add(30 * time.Minute)
	due, payload, err := f.svc.Probe(ctx, driver)
	require.NoError(t, err)
	assert.False(t, due)
	assert.Nil(t, payload)

	saved, err := f.rounds.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record, saved)
}

func TestUpkeep_ProbeBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3600*time.Second)
	f.addTargets(t, "http://a")
	T := f.now
	f.probeAndRun(t)

	f.now = T.Add(3599 * time.Second)
	due, _, err := f.svc.Probe(ctx, driver)
	require.NoError(t, err)
	assert.False(t, due)

	f.now = T.Add(3600 * time.Second)
	due, _, err = f.svc.Probe(ctx, driver)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestUpkeep_RunWhenNotDueIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	f.addTargets(t, "http://a")

	_, payload, err := f.svc.Probe(ctx, driver)
	require.NoError(t, err)
	_, err = f.svc.Run(ctx, driver, payload)
	require.NoError(t, err)

	_, err = f.svc.Run(ctx, driver, payload)
	assert.ErrorIs(t, err, domain.ErrNotDue)
	assert.Equal(t, 1, f.refresher.count())
}

func TestUpkeep_EmptyRegistryStillAdvancesTimer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)

	record := f.probeAndRun(t)
	assert.Empty(t, record.Targets)

	state, err := f.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.now, state.LastRun)
	assert.False(t, state.DueNow)
}

func TestUpkeep_WrongCallerMutatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	f.addTargets(t, "http://a")
	_, payload, err := f.svc.Probe(ctx, driver)
	require.NoError(t, err)
	saves := f.states.Saves()

	_, _, err = f.svc.Probe(ctx, "intruder")
	assert.ErrorIs(t, err, domain.ErrWrongCaller)
	_, err = f.svc.Run(ctx, "intruder", payload)
	assert.ErrorIs(t, err, domain.ErrWrongCaller)

	assert.Equal(t, 0, f.refresher.count())
	assert.Equal(t, saves, f.states.Saves())
	assert.Empty(t, f.recorder.OfType(domain.EventRoundExecuted))
}

func TestUpkeep_PauseBlocksRoundsUntilUnpaused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	f.addTargets(t, "http://a")
	_, payload, err := f.svc.Probe(ctx, driver)
	require.NoError(t, err)

	require.NoError(t, f.svc.Pause(ctx, owner))
	saves := f.states.Saves()

	_, _, err = f.svc.Probe(ctx, driver)
	assert.ErrorIs(t, err, domain.ErrPaused)
	_, err = f.svc.Run(ctx, driver, payload)
	assert.ErrorIs(t, err, domain.ErrPaused)
	assert.Equal(t, 0, f.refresher.count())
	assert.Equal(t, saves, f.states.Saves())

	require.NoError(t, f.svc.Unpause(ctx, owner))
	_, err = f.svc.Run(ctx, driver, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, f.refresher.count())

	assert.Len(t, f.recorder.OfType(domain.EventPaused), 1)
	assert.Len(t, f.recorder.OfType(domain.EventUnpaused), 1)
}

func TestUpkeep_PauseMidRoundSkipsRemainingTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	f.addTargets(t, "http://a", "http://b", "http://c")
	f.refresher.onCall = func(target string) {
		if target == "http://a" {
			assert.NoError(t, f.svc.Pause(ctx, owner))
		}
	}

	record := f.probeAndRun(t)

	assert.Equal(t, 1, f.refresher.count())
	assert.Equal(t, 2, record.Skipped)
	state, err := f.svc.State(ctx)
	require.NoError(t, err)
	assert.True(t, state.Paused)
	assert.Equal(t, f.now, state.LastRun)
}

func TestUpkeep_StalePayloadIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	f.addTargets(t, "http://a", "http://b")
	_, payload, err := f.svc.Probe(ctx, driver)
	require.NoError(t, err)

	_, err = f.svc.RemoveTargets(ctx, owner, []string{"http://b"})
	require.NoError(t, err)

	_, err = f.svc.Run(ctx, driver, payload)
	assert.ErrorIs(t, err, domain.ErrStalePayload)
	assert.Equal(t, 0, f.refresher.count())

	state, _ := f.svc.State(ctx)
	assert.True(t, state.LastRun.IsZero())
}

func TestUpkeep_InvalidPayloadIsRejected(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, err := f.svc.Run(context.Background(), driver, []byte("not a payload"))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestUpkeep_LockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	f.svc.locker = fakeLocker{err: domain.ErrLockNotAcquired}
	f.addTargets(t, "http://a")
	_, payload, err := f.svc.Probe(ctx, driver)
	require.NoError(t, err)

	_, err = f.svc.Run(ctx, driver, payload)
	assert.ErrorIs(t, err, domain.ErrRoundInProgress)
	assert.Equal(t, 0, f.refresher.count())
}
