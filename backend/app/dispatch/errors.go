package dispatch

import (
	"errors"

	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/store"
)

var (
	// Authentication class: rejected before any state is touched.
	ErrStaleTimestamp = errors.New("timestamp outside accepted window")
	ErrBadSignature   = errors.New("signature mismatch")
	ErrUnknownDevice  = errors.New("unknown device")

	ErrMalformedReport    = errors.New("malformed execution report")
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrTaskTerminal       = errors.New("task already in a terminal state")
	ErrTaskPaused         = errors.New("task is paused")
	ErrTaskNotPaused      = errors.New("task is not paused")
	ErrNoTargets          = errors.New("task resolved to no devices")

	ErrInvalidTask = models.ErrInvalidTask
	ErrNotFound    = models.ErrNotFound
)

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrStaleTimestamp) || errors.Is(err, ErrBadSignature) || errors.Is(err, ErrUnknownDevice)
}

// IsRetryable reports whether err is an infrastructure failure the caller may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, store.ErrUnavailable)
}
