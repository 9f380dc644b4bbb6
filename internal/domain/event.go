package domain

import (
	"context"
	"time"
)

// EventType names an observable state change or outcome.
type EventType string

const (
	EventTargetAdded          EventType = "target.added"
	EventTargetAlreadyPresent EventType = "target.already_present"
	EventTargetRemoved        EventType = "target.removed"
	EventTargetNotPresent     EventType = "target.not_present"
	EventTargetRefreshed      EventType = "target.refreshed"
	EventTargetRefreshFailed  EventType = "target.refresh_failed"
	EventTargetRefreshSkipped EventType = "target.refresh_skipped"
	EventRoundExecuted        EventType = "round.executed"
	EventMinWaitPeriodUpdated EventType = "config.min_wait_period_updated"
	EventDriverUpdated        EventType = "config.driver_updated"
	EventPaused               EventType = "lifecycle.paused"
	EventUnpaused             EventType = "lifecycle.unpaused"
	EventBalanceWithdrawn     EventType = "custody.balance_withdrawn"
	EventTokenSwept           EventType = "custody.token_swept"
)

// Event is emitted for every state change and every per-target outcome.
// Only the fields relevant to Type are set.
type Event struct {
	Type    EventType `json:"type"`
	Time    time.Time `json:"time"`
	Caller  string    `json:"caller,omitempty"`
	RoundID string    `json:"round_id,omitempty"`
	Target  string    `json:"target,omitempty"`
	Targets []string  `json:"targets,omitempty"`
	Count   int       `json:"count,omitempty"`
	Failed  int       `json:"failed,omitempty"`
	Old     string    `json:"old,omitempty"`
	New     string    `json:"new,omitempty"`
	Token   string    `json:"token,omitempty"`
	Amount  uint64    `json:"amount,omitempty"`
	To      string    `json:"to,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// EventSink receives events. Implementations must not block the caller for long
// and must be safe for concurrent use.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}
