package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"upkeep-dispatcher/internal/domain"
	"upkeep-dispatcher/internal/events"
	"upkeep-dispatcher/internal/gate"
	"upkeep-dispatcher/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRefresher records calls and fails or hangs for selected targets.
type fakeRefresher struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]bool
	hang   map[string]bool
	panics map[string]bool
	onCall func(target string)
}

func (f *fakeRefresher) Refresh(ctx context.Context, target string) error {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall(target)
	}
	switch {
	case f.panics[target]:
		panic("boom")
	case f.hang[target]:
		// ignores ctx on purpose
		time.Sleep(time.Minute)
	case f.fail[target]:
		return errors.New("simulated fault")
	}
	return nil
}

func (f *fakeRefresher) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type countingMarker struct {
	calls int
	at    time.Time
}

func (m *countingMarker) MarkRun(now time.Time) {
	m.calls++
	m.at = now
}

// countingRegistry counts List calls.
type countingRegistry struct {
	*registry.Set
	lists int
}

func (c *countingRegistry) List(ctx context.Context) ([]string, error) {
	c.lists++
	return c.Set.List(ctx)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(reg domain.TargetRegistry, r domain.Refresher, rec *events.Recorder, opts ...Option) *Dispatcher {
	refreshers := map[domain.TargetKind]domain.Refresher{
		domain.TargetKindHTTP: r,
		domain.TargetKindGRPC: r,
	}
	return New(reg, refreshers, rec, discardLogger(), opts...)
}

func TestCheckDue_DoesNotSnapshotWhenNotDue(t *testing.T) {
	ctx := context.Background()
	reg := &countingRegistry{Set: registry.NewSet()}
	_, _ = reg.Add(ctx, "http://a")
	d := newTestDispatcher(reg, &fakeRefresher{}, events.NewRecorder(0))

	T := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := gate.New(time.Hour)
	g.MarkRun(T)

	due, snap, err := d.CheckDue(ctx, g, T.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, due)
	assert.Empty(t, snap)
	assert.Equal(t, 0, reg.lists)

	due, snap, err = d.CheckDue(ctx, g, T.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, due)
	assert.Equal(t, []string{"http://a"}, snap)
	assert.Equal(t, 1, reg.lists)
}

func TestExecute_IsolatesFailingTarget(t *testing.T) {
	ctx := context.Background()
	rec := events.NewRecorder(0)
	r := &fakeRefresher{fail: map[string]bool{"http://b": true}}
	d := newTestDispatcher(registry.NewSet(), r, rec)
	marker := &countingMarker{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	record := d.Execute(ctx, "round-1", now, []string{"http://a", "http://b", "http://c"}, marker)

	assert.Equal(t, []string{"http://a", "http://b", "http://c"}, r.callList())
	assert.Equal(t, 1, record.Failed)
	assert.Equal(t, 3, record.Attempted())
	assert.Equal(t, domain.OutcomeSuccess, record.Outcomes[0].Status)
	assert.Equal(t, domain.OutcomeFailed, record.Outcomes[1].Status)
	assert.Equal(t, "simulated fault", record.Outcomes[1].Error)
	assert.Equal(t, domain.OutcomeSuccess, record.Outcomes[2].Status)

	assert.Equal(t, 1, marker.calls)
	assert.Equal(t, now, marker.at)

	failed := rec.OfType(domain.EventTargetRefreshFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "http://b", failed[0].Target)
	assert.Len(t, rec.OfType(domain.EventTargetRefreshed), 2)

	rounds := rec.OfType(domain.EventRoundExecuted)
	require.Len(t, rounds, 1)
	assert.Equal(t, 3, rounds[0].Count)
	assert.Equal(t, 1, rounds[0].Failed)
}

func TestExecute_NAttemptsMFailuresOneMark(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		rec := events.NewRecorder(0)
		fail := map[string]bool{}
		var snapshot []string
		for i := 0; i < 10; i++ {
			id := "http://t" + string(rune('a'+i))
			snapshot = append(snapshot, id)
			if i%3 == 0 {
				fail[id] = true
			}
		}
		r := &fakeRefresher{fail: fail}
		d := newTestDispatcher(registry.NewSet(), r, rec, WithConcurrency(concurrency))
		marker := &countingMarker{}

		record := d.Execute(context.Background(), "r", time.Now(), snapshot, marker)

		assert.Len(t, r.callList(), 10, "concurrency %d", concurrency)
		assert.Equal(t, len(fail), record.Failed)
		assert.Len(t, rec.OfType(domain.EventTargetRefreshFailed), len(fail))
		assert.Equal(t, 1, marker.calls)
		for i, o := range record.Outcomes {
			assert.Equal(t, snapshot[i], o.Target)
		}
	}
}

func TestExecute_EmptySnapshotStillMarksRun(t *testing.T) {
	rec := events.NewRecorder(0)
	d := newTestDispatcher(registry.NewSet(), &fakeRefresher{}, rec)
	marker := &countingMarker{}

	record := d.Execute(context.Background(), "r", time.Now(), nil, marker)

	assert.Equal(t, 0, record.Attempted())
	assert.Equal(t, 1, marker.calls)
	assert.Len(t, rec.OfType(domain.EventRoundExecuted), 1)
}

func TestExecute_TimeoutAndPanicAreFailures(t *testing.T) {
	r := &fakeRefresher{
		hang:   map[string]bool{"http://slow": true},
		panics: map[string]bool{"grpc://bad:1": true},
	}
	d := newTestDispatcher(registry.NewSet(), r, events.NewRecorder(0), WithTargetTimeout(50*time.Millisecond))
	marker := &countingMarker{}

	record := d.Execute(context.Background(), "r", time.Now(), []string{"http://slow", "grpc://bad:1", "http://ok"}, marker)

	require.Len(t, record.Outcomes, 3)
	assert.Equal(t, domain.OutcomeFailed, record.Outcomes[0].Status)
	assert.Contains(t, record.Outcomes[0].Error, "timed out")
	assert.Equal(t, domain.OutcomeFailed, record.Outcomes[1].Status)
	assert.Contains(t, record.Outcomes[1].Error, "panicked")
	assert.Equal(t, domain.OutcomeSuccess, record.Outcomes[2].Status)
	assert.Equal(t, 1, marker.calls)
}

func TestExecute_UnsupportedSchemeFailsOnlyThatTarget(t *testing.T) {
	r := &fakeRefresher{}
	d := newTestDispatcher(registry.NewSet(), r, events.NewRecorder(0))

	record := d.Execute(context.Background(), "r", time.Now(), []string{"ftp://x", "http://a"}, &countingMarker{})

	assert.Equal(t, domain.OutcomeFailed, record.Outcomes[0].Status)
	assert.Equal(t, domain.OutcomeSuccess, record.Outcomes[1].Status)
	assert.Equal(t, []string{"http://a"}, r.callList())
}

func TestExecute_HaltSkipsRemainingTargets(t *testing.T) {
	var halted atomic.Bool
	rec := events.NewRecorder(0)
	r := &fakeRefresher{onCall: func(target string) {
		if target == "http://b" {
			halted.Store(true)
		}
	}}
	d := newTestDispatcher(registry.NewSet(), r, rec, WithHaltCheck(halted.Load))
	marker := &countingMarker{}

	record := d.Execute(context.Background(), "r", time.Now(), []string{"http://a", "http://b", "http://c", "http://d"}, marker)

	assert.Equal(t, []string{"http://a", "http://b"}, r.callList())
	assert.Equal(t, domain.OutcomeSuccess, record.Outcomes[1].Status)
	assert.Equal(t, 2, record.Skipped)
	assert.Equal(t, 2, record.Attempted())
	assert.Len(t, rec.OfType(domain.EventTargetRefreshSkipped), 2)
	assert.Equal(t, 1, marker.calls)
}

func TestExecute_SnapshotIsCopied(t *testing.T) {
	r := &fakeRefresher{}
	d := newTestDispatcher(registry.NewSet(), r, events.NewRecorder(0))
	snapshot := []string{"http://a", "http://b"}
	r.onCall = func(string) { snapshot[1] = "http://mutated" }

	record := d.Execute(context.Background(), "r", time.Now(), snapshot, &countingMarker{})

	assert.Equal(t, []string{"http://a", "http://b"}, r.callList())
	assert.Equal(t, []string{"http://a", "http://b"}, record.Targets)
}
