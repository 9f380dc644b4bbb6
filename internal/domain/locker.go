package domain

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when the lock is held elsewhere.
var ErrLockNotAcquired = errors.New("lock not acquired")

// RoundLockName is the lock held by a replica while it executes a round.
const RoundLockName = "round"

// Lock is an acquired lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker guards dispatch rounds across replicas. Lock must not block:
// if the lock is already held it returns ErrLockNotAcquired.
type Locker interface {
	Lock(ctx context.Context, name string) (Lock, error)
}
