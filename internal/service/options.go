package service

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/clock"
)

// Option configures an AdmissionController.
type Option func(*AdmissionController)

// WithClock overrides the system clock.
func WithClock(c clock.Clock) Option {
	return func(a *AdmissionController) { a.clock = c }
}

// WithAutoConfirm chooses whether new sign-ups start Confirmed (true) or
// Pending awaiting approval (false).
func WithAutoConfirm(v bool) Option {
	return func(a *AdmissionController) { a.autoConfirm = v }
}

// WithLockTimeout bounds the wait for an event's critical section per attempt.
func WithLockTimeout(d time.Duration) Option {
	return func(a *AdmissionController) {
		if d > 0 {
			a.lockTimeout = d
		}
	}
}

// WithMaxAttempts bounds internal retries on Conflict and Busy.
func WithMaxAttempts(n int) Option {
	return func(a *AdmissionController) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay between attempts; it doubles each retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(a *AdmissionController) {
		if d >= 0 {
			a.backoff = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(a *AdmissionController) { a.log = l }
}

// WithIDGenerator replaces uuid.NewString, for deterministic tests.
func WithIDGenerator(fn func() string) Option {
	return func(a *AdmissionController) { a.newID = fn }
}
