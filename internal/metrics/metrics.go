// Package metrics holds the Prometheus instruments for admission decisions.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

const (
	namespace = "volunteer"
	subsystem = "admission"
)

// Outcome label values.
const (
	OutcomeOK          = "ok"
	OutcomeDuplicate   = "duplicate"
	OutcomeFull        = "full"
	OutcomeNotOpen     = "not_open"
	OutcomeInvalid     = "invalid_transition"
	OutcomeNotFound    = "not_found"
	OutcomeBadInput    = "invalid_input"
	OutcomeConflict    = "conflict"
	OutcomeBusy        = "busy"
	OutcomeBelowActive = "capacity_below_active"
	OutcomeInternal    = "error"
)

var (
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decisions_total",
			Help:      "Admission controller decisions broken out by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for an event's critical section.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retries_total",
			Help:      "Internal retries of admission operations broken out by reason.",
		},
		[]string{"reason"},
	)
)

var registerMetrics sync.Once

// Register adds the admission instruments to reg. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(decisions)
		reg.MustRegister(lockWait)
		reg.MustRegister(retries)
	})
}

// Reset clears all recorded values. Tests only.
func Reset() {
	decisions.Reset()
	retries.Reset()
}

// Outcome maps an operation result onto its outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, model.ErrDuplicateRegistration):
		return OutcomeDuplicate
	case errors.Is(err, model.ErrEventFull):
		return OutcomeFull
	case errors.Is(err, model.ErrEventNotOpen):
		return OutcomeNotOpen
	case errors.Is(err, model.ErrInvalidTransition):
		return OutcomeInvalid
	case errors.Is(err, model.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, model.ErrInvalidInput):
		return OutcomeBadInput
	case errors.Is(err, model.ErrConflict):
		return OutcomeConflict
	case errors.Is(err, model.ErrBusy):
		return OutcomeBusy
	case errors.Is(err, model.ErrCapacityBelowActive):
		return OutcomeBelowActive
	}
	return OutcomeInternal
}

// RecordDecision counts the final result of one admission operation.
func RecordDecision(operation string, err error) {
	decisions.WithLabelValues(operation, Outcome(err)).Inc()
}

// RecordLockWait observes how long a caller waited for a critical section.
func RecordLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}

// RecordRetry counts one internal retry caused by err.
func RecordRetry(err error) {
	retries.WithLabelValues(Outcome(err)).Inc()
}
