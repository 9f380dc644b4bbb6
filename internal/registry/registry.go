// Package registry holds the in-memory target set and batch helpers shared by
// every domain.TargetRegistry implementation.
package registry

import (
	"context"
	"sort"
	"sync"

	"upkeep-dispatcher/internal/domain"
)

// Set is an in-memory domain.TargetRegistry.
type Set struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// NewSet creates an empty target set.
func NewSet() *Set {
	return &Set{items: make(map[string]struct{})}
}

var _ domain.TargetRegistry = (*Set)(nil)

func (s *Set) Add(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return false, nil
	}
	s.items[id] = struct{}{}
	return true, nil
}

func (s *Set) Remove(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false, nil
	}
	delete(s.items, id)
	return true, nil
}

func (s *Set) Contains(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok, nil
}

// List returns the members sorted by identifier.
func (s *Set) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]string, 0, len(s.items))
	for id := range s.items {
		list = append(list, id)
	}
	sort.Strings(list)
	return list, nil
}

// Len returns the number of members.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
