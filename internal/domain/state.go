package domain

import (
	"context"
	"time"
)

// DispatchState is the persisted state of the dispatcher.
type DispatchState struct {
	LastRun       time.Time     `json:"last_run"`
	MinWaitPeriod time.Duration `json:"min_wait_period"`
	Driver        string        `json:"driver"`
	Paused        bool          `json:"paused"`
	UpdatedAt     time.Time     `json:"updated_at"`

	// Revision identifies the stored version this state was loaded from.
	// Zero means nothing was stored yet.
	Revision int64 `json:"-"`
}

// StateStore loads and saves the dispatcher state.
type StateStore interface {
	// Load returns the stored state, or ErrStateNotFound if nothing was saved yet.
	Load(ctx context.Context) (*DispatchState, error)
	// Save stores state only if the stored revision still equals
	// state.Revision, and returns ErrStateConflict otherwise. On success
	// state.Revision is advanced to the new revision.
	Save(ctx context.Context, state *DispatchState) error
}
