package domain

import "context"

// Trigger drives dispatch rounds on its own cadence.
type Trigger interface {
	Start(ctx context.Context) error
	Stop()
}
