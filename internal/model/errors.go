package model

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrDuplicateRegistration = errors.New("volunteer already registered for this event")
	ErrEventFull             = errors.New("event is fully booked")
	ErrEventNotOpen          = errors.New("event is not open for registration")
	ErrInvalidTransition     = errors.New("invalid registration status transition")
	ErrConflict              = errors.New("registration was modified concurrently")
	ErrBusy                  = errors.New("event is busy, retry later")
	ErrCapacityBelowActive   = errors.New("capacity below current active registrations")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
)

// IsRetryable reports whether err is a concurrency error that a fresh attempt may resolve.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrBusy)
}
