package etcd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"upkeep-dispatcher/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	// LockSessionTTL is the lease TTL, in seconds, of a lock session.
	// A crashed holder releases its lock after at most this long.
	LockSessionTTL = 10
	lockTryTimeout = 100 * time.Millisecond
)

type etcdLock struct {
	mutex   *concurrency.Mutex
	session *concurrency.Session
	name    string
}

// Unlock releases the mutex and closes its session, revoking the lease.
func (l *etcdLock) Unlock(ctx context.Context) error {
	defer l.session.Close()
	if err := l.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.name, err)
	}
	return nil
}

type etcdLocker struct {
	client *clientv3.Client
	keys   Keys
}

// NewEtcdLocker creates a locker whose locks live under <prefix>/locks/.
func NewEtcdLocker(client *clientv3.Client, keys Keys) domain.Locker {
	return &etcdLocker{client: client, keys: keys}
}

// Lock tries to take the named lock without waiting for its holder.
func (l *etcdLocker) Lock(ctx context.Context, name string) (domain.Lock, error) {
	// One session per lock: closing it releases the lock even if Unlock is never called.
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(LockSessionTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session for lock %s: %w", name, err)
	}

	mutex := concurrency.NewMutex(session, l.keys.Locks()+name)

	tryCtx, cancel := context.WithTimeout(ctx, lockTryTimeout)
	defer cancel()

	if err := mutex.TryLock(tryCtx); err != nil {
		_ = session.Close()
		if errors.Is(err, concurrency.ErrLocked) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.ErrLockNotAcquired
		}
		return nil, fmt.Errorf("failed to try acquiring etcd lock %s: %w", name, err)
	}

	return &etcdLock{mutex: mutex, session: session, name: name}, nil
}
