package domain

import "context"

// LeaderElectionManager elects the single replica that drives dispatch rounds.
type LeaderElectionManager interface {
	// Campaign blocks until leadership is won. The returned channel is closed
	// when leadership is lost.
	Campaign(ctx context.Context) (<-chan struct{}, error)
	Resign(ctx context.Context) error
	IsLeader() bool
}
