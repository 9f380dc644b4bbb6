package http

import (
	"time"

	"upkeep-dispatcher/internal/domain"
	"upkeep-dispatcher/internal/registry"
)

// TargetsRequest is the body of POST and DELETE /targets.
type TargetsRequest struct {
	Targets []string `json:"targets" validate:"required,min=1,max=1000,dive,required,url"`
}

type TargetsResponse struct {
	Targets []string `json:"targets"`
}

type ChangesResponse struct {
	Changes []registry.Change `json:"changes"`
}

type MinWaitPeriodRequest struct {
	MinWaitPeriod string `json:"min_wait_period" validate:"required,duration"`
}

// Duration is only called after validation succeeded.
func (r *MinWaitPeriodRequest) Duration() time.Duration {
	d, _ := time.ParseDuration(r.MinWaitPeriod)
	return d
}

type DriverRequest struct {
	Driver string `json:"driver" validate:"required,max=256"`
}

// WithdrawRequest withdraws Amount of the native balance; 0 withdraws all of it.
type WithdrawRequest struct {
	Amount uint64 `json:"amount"`
}

type SweepRequest struct {
	Token string `json:"token" validate:"required,max=256"`
}

type TransferResponse struct {
	Token  string `json:"token,omitempty"`
	Amount uint64 `json:"amount"`
	To     string `json:"to"`
}

// ProbeResponse carries the encoded snapshot to hand back to /upkeep/run.
// Payload is base64 in JSON.
type ProbeResponse struct {
	Due     bool   `json:"due"`
	Payload []byte `json:"payload,omitempty"`
}

type RunRequest struct {
	Payload []byte `json:"payload" validate:"required"`
}

type RoundsResponse struct {
	Rounds []*domain.RoundRecord `json:"rounds"`
}

type EventsResponse struct {
	Events []domain.Event `json:"events"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
