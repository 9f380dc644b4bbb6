// Package memory holds in-process implementations of the storage interfaces.
package memory

import (
	"context"
	"fmt"
	"sync"

	"upkeep-dispatcher/internal/domain"
)

// StateStore keeps the dispatch state in memory.
type StateStore struct {
	mu    sync.Mutex
	state *domain.DispatchState
	rev   int64
	saves int
}

func NewStateStore() *StateStore {
	return &StateStore{}
}

var _ domain.StateStore = (*StateStore)(nil)

func (s *StateStore) Load(_ context.Context) (*domain.DispatchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, domain.ErrStateNotFound
	}
	cp := *s.state
	return &cp, nil
}

// Save stores state if nothing was saved since it was loaded.
func (s *StateStore) Save(_ context.Context, state *domain.DispatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.Revision != s.rev {
		return fmt.Errorf("%w: have revision %d, stored %d", domain.ErrStateConflict, state.Revision, s.rev)
	}
	s.rev++
	state.Revision = s.rev
	cp := *state
	s.state = &cp
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *StateStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
