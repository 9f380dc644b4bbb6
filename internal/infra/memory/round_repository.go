package memory

import (
	"context"
	"sync"

	"upkeep-dispatcher/internal/domain"
)

// RoundRepository keeps round records in insertion order.
type RoundRepository struct {
	mu      sync.RWMutex
	records []*domain.RoundRecord
	byID    map[string]*domain.RoundRecord
}

func NewRoundRepository() *RoundRepository {
	return &RoundRepository{byID: make(map[string]*domain.RoundRecord)}
}

var _ domain.RoundRepository = (*RoundRepository)(nil)

func (r *RoundRepository) Save(_ context.Context, record *domain.RoundRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[record.ID]; !ok {
		r.records = append(r.records, record)
	} else {
		for i, rec := range r.records {
			if rec.ID == record.ID {
				r.records[i] = record
			}
		}
	}
	r.byID[record.ID] = record
	return nil
}

func (r *RoundRepository) Get(_ context.Context, id string) (*domain.RoundRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrRoundNotFound
	}
	return rec, nil
}

func (r *RoundRepository) List(_ context.Context, page, pageSize int) ([]*domain.RoundRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	page, pageSize = domain.NormalizePage(page, pageSize)
	start := (page - 1) * pageSize
	out := make([]*domain.RoundRecord, 0, pageSize)
	for i := len(r.records) - 1 - start; i >= 0 && len(out) < pageSize; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}
