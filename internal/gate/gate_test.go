package gate

import (
	"testing"
	"time"

	"upkeep-dispatcher/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_NeverRunIsDue(t *testing.T) {
	g := New(time.Hour)
	assert.True(t, g.IsDue(time.Unix(3600, 0)))
}

func TestGate_Boundary(t *testing.T) {
	g := New(3600 * time.Second)
	T := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g.MarkRun(T)

	assert.False(t, g.IsDue(T))
	assert.False(t, g.IsDue(T.Add(3599*time.Second)))
	assert.True(t, g.IsDue(T.Add(3600*time.Second)))
	assert.True(t, g.IsDue(T.Add(2*time.Hour)))
	assert.Equal(t, T.Add(time.Hour), g.NextDue())
}

func TestGate_MarkRunNeverMovesBackwards(t *testing.T) {
	g := New(time.Minute)
	T := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g.MarkRun(T)
	g.MarkRun(T.Add(-time.Hour))
	assert.Equal(t, T, g.LastRun())
}

func TestGate_SetMinWaitPeriodTakesEffectImmediately(t *testing.T) {
	g := New(time.Hour)
	T := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g.MarkRun(T)
	require.False(t, g.IsDue(T.Add(10*time.Minute)))

	prev := g.SetMinWaitPeriod(5 * time.Minute)
	assert.Equal(t, time.Hour, prev)
	assert.True(t, g.IsDue(T.Add(10*time.Minute)))
}

func TestGate_StateRoundTrip(t *testing.T) {
	T := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	state := &domain.DispatchState{LastRun: T, MinWaitPeriod: time.Hour, Driver: "keeper"}
	g := FromState(state)
	g.MarkRun(T.Add(2 * time.Hour))
	g.Apply(state)

	assert.Equal(t, T.Add(2*time.Hour), state.LastRun)
	assert.Equal(t, time.Hour, state.MinWaitPeriod)
	assert.Equal(t, "keeper", state.Driver)
}
