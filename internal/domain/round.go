package domain

import (
	"context"
	"time"
)

// OutcomeStatus is the result of a single refresh attempt.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	// OutcomeSkipped marks targets not attempted because the dispatcher was paused mid-round.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// TargetOutcome records what happened to one target during a round.
type TargetOutcome struct {
	Target   string        `json:"target"`
	Status   OutcomeStatus `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RoundRecord is the persisted summary of one dispatch round.
type RoundRecord struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Targets    []string        `json:"targets"`
	Outcomes   []TargetOutcome `json:"outcomes"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
}

// Attempted returns the number of targets whose refresh was actually invoked.
func (r *RoundRecord) Attempted() int {
	return len(r.Outcomes) - r.Skipped
}

// RoundRepository persists round records.
type RoundRepository interface {
	Save(ctx context.Context, record *RoundRecord) error
	Get(ctx context.Context, id string) (*RoundRecord, error)
	// List returns records newest first. Pages start at 1.
	List(ctx context.Context, page, pageSize int) ([]*RoundRecord, error)
}

const DefaultPageSize = 20

// NormalizePage clamps page to at least 1 and replaces a non-positive
// pageSize with DefaultPageSize.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return page, pageSize
}
