package events

import (
	"context"
	"sync"

	"upkeep-dispatcher/internal/domain"
)

// Recorder keeps the most recent events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
	limit  int
}

// NewRecorder keeps at most limit events; limit <= 0 means unbounded.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Emit(_ context.Context, e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append(r.events[:0:0], r.events[len(r.events)-r.limit:]...)
	}
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// OfType returns the recorded events of the given type.
func (r *Recorder) OfType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Fanout forwards each event to every sink in order.
type Fanout []domain.EventSink

func (f Fanout) Emit(ctx context.Context, e domain.Event) {
	for _, s := range f {
		s.Emit(ctx, e)
	}
}
