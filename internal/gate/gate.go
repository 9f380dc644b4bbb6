// Package gate implements the minimum-interval throttle that decides when a
// dispatch round may begin.
package gate

import (
	"time"

	"upkeep-dispatcher/internal/domain"
)

// Gate tracks the last completed round and the minimum wait between rounds.
// A Gate is not safe for concurrent use; callers serialize access.
type Gate struct {
	lastRun time.Time
	minWait time.Duration
}

// New returns a gate that has never run.
func New(minWait time.Duration) *Gate {
	return &Gate{minWait: minWait}
}

// FromState rebuilds a gate from persisted state.
func FromState(state *domain.DispatchState) *Gate {
	return &Gate{lastRun: state.LastRun, minWait: state.MinWaitPeriod}
}

// IsDue reports whether now >= lastRun + minWait.
func (g *Gate) IsDue(now time.Time) bool {
	return !now.Before(g.lastRun.Add(g.minWait))
}

// MarkRun records a completed round. lastRun never moves backwards.
func (g *Gate) MarkRun(now time.Time) {
	if now.After(g.lastRun) {
		g.lastRun = now
	}
}

// SetMinWaitPeriod replaces the minimum wait and returns the previous value.
func (g *Gate) SetMinWaitPeriod(d time.Duration) time.Duration {
	prev := g.minWait
	g.minWait = d
	return prev
}

func (g *Gate) LastRun() time.Time           { return g.lastRun }
func (g *Gate) MinWaitPeriod() time.Duration { return g.minWait }

// NextDue returns the earliest time at which IsDue becomes true.
func (g *Gate) NextDue() time.Time {
	return g.lastRun.Add(g.minWait)
}

// Apply writes the gate's fields back into state.
func (g *Gate) Apply(state *domain.DispatchState) {
	state.LastRun = g.lastRun
	state.MinWaitPeriod = g.minWait
}
