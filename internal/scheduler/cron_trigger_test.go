package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"upkeep-dispatcher/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpkeep struct {
	mu       sync.Mutex
	due      bool
	probeErr error
	callers  []string
	runs     int
}

func (f *fakeUpkeep) Probe(_ context.Context, caller string) (bool, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callers = append(f.callers, caller)
	if f.probeErr != nil {
		return false, nil, f.probeErr
	}
	return f.due, []byte("payload"), nil
}

func (f *fakeUpkeep) Run(_ context.Context, caller string, payload []byte) (*domain.RoundRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	if string(payload) != "payload" {
		return nil, errors.New("unexpected payload")
	}
	return &domain.RoundRecord{ID: "r1"}, nil
}

func (f *fakeUpkeep) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func newTrigger(t *testing.T, schedule string, up UpkeepDriver) *CronTrigger {
	t.Helper()
	tr, err := NewCronTrigger(schedule, "keeper", up, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return tr
}

func TestTick_RunsOnlyWhenDue(t *testing.T) {
	up := &fakeUpkeep{}
	tr := newTrigger(t, "@every 1h", up)

	tr.Tick()
	assert.Equal(t, 0, up.runCount())

	up.due = true
	tr.Tick()
	assert.Equal(t, 1, up.runCount())
	assert.Equal(t, []string{"keeper", "keeper"}, up.callers)
}

func TestTick_ProbeErrorSkipsRun(t *testing.T) {
	up := &fakeUpkeep{due: true, probeErr: domain.ErrPaused}
	tr := newTrigger(t, "@every 1h", up)
	tr.Tick()
	up.probeErr = domain.ErrWrongCaller
	tr.Tick()
	assert.Equal(t, 0, up.runCount())
}

func TestTick_HandedOverDriverIsNotAnError(t *testing.T) {
	var logs bytes.Buffer
	up := &fakeUpkeep{due: true, probeErr: domain.ErrWrongCaller}
	tr, err := NewCronTrigger("@every 1h", "keeper", up,
		slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tr.Tick()
	}
	assert.Equal(t, 0, up.runCount())
	assert.NotContains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "not the authorized driver")

	logs.Reset()
	up.probeErr = errors.New("etcd unavailable")
	tr.Tick()
	assert.Contains(t, logs.String(), "level=ERROR")
}

func TestNewCronTrigger_RejectsBadSchedule(t *testing.T) {
	_, err := NewCronTrigger("not a schedule", "keeper", &fakeUpkeep{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestStart_TicksUntilCanceled(t *testing.T) {
	up := &fakeUpkeep{due: true}
	tr := newTrigger(t, "* * * * * *", up)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Start(ctx) }()

	require.Eventually(t, func() bool { return up.runCount() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("trigger did not stop")
	}
}
