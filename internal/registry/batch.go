package registry

import (
	"context"
	"fmt"

	"upkeep-dispatcher/internal/domain"
)

// Change is the per-identifier result of a batch mutation.
// Changed is false when the target already existed (add) or was absent (remove).
type Change struct {
	Target  string `json:"target"`
	Changed bool   `json:"changed"`
}

// AddBatch adds every id independently. It stops only on a storage error and
// returns the changes applied so far.
func AddBatch(ctx context.Context, r domain.TargetRegistry, ids []string) ([]Change, error) {
	changes := make([]Change, 0, len(ids))
	for _, id := range ids {
		added, err := r.Add(ctx, id)
		if err != nil {
			return changes, fmt.Errorf("failed to add target %s: %w", id, err)
		}
		changes = append(changes, Change{Target: id, Changed: added})
	}
	return changes, nil
}

// RemoveBatch removes every id independently, with the same error semantics as AddBatch.
func RemoveBatch(ctx context.Context, r domain.TargetRegistry, ids []string) ([]Change, error) {
	changes := make([]Change, 0, len(ids))
	for _, id := range ids {
		removed, err := r.Remove(ctx, id)
		if err != nil {
			return changes, fmt.Errorf("failed to remove target %s: %w", id, err)
		}
		changes = append(changes, Change{Target: id, Changed: removed})
	}
	return changes, nil
}
