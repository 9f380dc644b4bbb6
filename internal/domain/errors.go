package domain

import "errors"

var (
	// ErrUnauthorized is returned when an administrative call does not come from the owner.
	ErrUnauthorized = errors.New("caller is not the owner")
	// ErrWrongCaller is returned when probe or run is called by anyone but the authorized driver.
	ErrWrongCaller = errors.New("caller is not the authorized driver")
	ErrPaused      = errors.New("dispatcher is paused")
	ErrNotDue      = errors.New("minimum wait period has not elapsed")
	// ErrRoundInProgress is returned when a round is already running.
	ErrRoundInProgress = errors.New("dispatch round already in progress")
	ErrInvalidPayload  = errors.New("invalid upkeep payload")
	// ErrStalePayload is returned when a payload names targets that are no longer
	// registered or was issued before the last round.
	ErrStalePayload  = errors.New("stale upkeep payload")
	ErrInvalidTarget = errors.New("invalid target identifier")
	ErrStateNotFound = errors.New("dispatch state not found")
	ErrRoundNotFound = errors.New("round not found")
	// ErrStateConflict is returned by StateStore.Save when the state changed since it was loaded.
	ErrStateConflict = errors.New("dispatch state was modified concurrently")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("transfer failed")
)

// ErrInvalidArgument is returned for malformed administrative input.
var ErrInvalidArgument = errors.New("invalid argument")
