package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/metrics"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

// lockedFunc runs inside an event's critical section with the store
// transaction in ctx. It returns the event's counted registrations as they
// will stand once the transaction commits.
type lockedFunc func(ctx context.Context) (int, error)

// serialize runs fn inside eventID's critical section, retrying Conflict and
// Busy up to maxAttempts times. Business rejections return immediately.
func (a *AdmissionController) serialize(ctx context.Context, operation, eventID string, fn lockedFunc) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = a.attempt(ctx, eventID, fn)
		if err == nil || !model.IsRetryable(err) || attempt >= a.maxAttempts || ctx.Err() != nil {
			return err
		}

		metrics.RecordRetry(err)
		wait := a.backoff << (attempt - 1)
		a.log.V(1).Info("retrying", "operation", operation, "event", eventID, "attempt", attempt, "backoff", wait, "reason", err.Error())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (a *AdmissionController) attempt(ctx context.Context, eventID string, fn lockedFunc) error {
	lockCtx, cancel := context.WithTimeout(ctx, a.lockTimeout)
	start := time.Now()
	unlock, err := a.locks.Lock(lockCtx, eventID)
	cancel()
	metrics.RecordLockWait(time.Since(start))
	if err != nil {
		return fmt.Errorf("%w: waiting for event %s: %w", model.ErrBusy, eventID, err)
	}
	defer unlock()

	var count int
	err = a.store.WithEventLock(ctx, eventID, func(txCtx context.Context) error {
		var err error
		count, err = fn(txCtx)
		return err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %w", model.ErrBusy, err)
		}
		// A rejection rolls back cleanly; anything else may have left the
		// commit outcome unknown.
		if !isRejection(err) {
			a.ledger.Invalidate(eventID)
		}
		return err
	}
	a.ledger.Commit(eventID, count)
	return nil
}

// loadEvent re-reads the event and its committed count inside the critical
// section so administrative changes made since validation are honoured.
func (a *AdmissionController) loadEvent(ctx context.Context, eventID string) (*model.Event, int, error) {
	ev, err := a.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, 0, err
	}
	count, err := a.ledger.CurrentActiveCount(ctx, eventID)
	if err != nil {
		return nil, 0, err
	}
	return ev, count, nil
}

// isRejection reports whether err is a business-rule outcome rather than a
// store or concurrency failure.
func isRejection(err error) bool {
	for _, target := range []error{
		model.ErrNotFound,
		model.ErrInvalidInput,
		model.ErrDuplicateRegistration,
		model.ErrEventFull,
		model.ErrEventNotOpen,
		model.ErrInvalidTransition,
		model.ErrCapacityBelowActive,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
