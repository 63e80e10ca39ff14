package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/clock"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/ledger"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/lock"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/metrics"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

// AdmissionStore is what the admission controller reads and writes.
type AdmissionStore interface {
	RegistrationStore
	VolunteerDirectory
}

// AdmissionController owns every write to registration status. Mutations for
// one event run one at a time, in arrival order; different events proceed
// independently.
type AdmissionController struct {
	store  AdmissionStore
	ledger *ledger.Ledger
	locks  *lock.Keyed
	clock  clock.Clock
	log    logr.Logger
	newID  func() string

	autoConfirm bool
	lockTimeout time.Duration
	maxAttempts int
	backoff     time.Duration
}

// NewAdmissionController wires the controller to its store and ledger.
func NewAdmissionController(store AdmissionStore, led *ledger.Ledger, opts ...Option) *AdmissionController {
	a := &AdmissionController{
		store:       store,
		ledger:      led,
		locks:       lock.NewKeyed(),
		clock:       clock.NewSystem(),
		log:         logr.Discard(),
		newID:       uuid.NewString,
		autoConfirm: true,
		lockTimeout: 2 * time.Second,
		maxAttempts: 3,
		backoff:     25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register signs volunteerID up for eventID. The new record is Confirmed, or
// Pending when auto-confirm is off.
func (a *AdmissionController) Register(ctx context.Context, eventID, volunteerID, notes string) (reg *model.Registration, err error) {
	defer func() { a.observe("register", err, "event", eventID, "volunteer", volunteerID) }()

	if eventID, err = requireID("event id", eventID); err != nil {
		return nil, err
	}
	if volunteerID, err = requireID("volunteer id", volunteerID); err != nil {
		return nil, err
	}
	if _, err = a.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	ok, err := a.store.VolunteerExists(ctx, volunteerID)
	if err != nil {
		return nil, fmt.Errorf("check volunteer: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("volunteer %s: %w", volunteerID, model.ErrNotFound)
	}

	requested := model.StatusConfirmed
	if !a.autoConfirm {
		requested = model.StatusPending
	}
	notes = strings.TrimSpace(notes)

	err = a.serialize(ctx, "register", eventID, func(txCtx context.Context) (int, error) {
		ev, count, err := a.loadEvent(txCtx, eventID)
		if err != nil {
			return 0, err
		}
		hasActive, err := a.hasActive(txCtx, eventID, volunteerID)
		if err != nil {
			return 0, err
		}

		now := a.clock.Now()
		next, err := model.Transition(model.StatusNone, requested, model.TransitionContext{
			Event:          ev,
			Now:            now,
			HasActive:      hasActive,
			HasFreeSlot:    count < ev.Capacity,
			ReservePending: a.ledger.ReservePending(),
		})
		if err != nil {
			return 0, err
		}

		r := model.Registration{
			ID:           a.newID(),
			EventID:      eventID,
			VolunteerID:  volunteerID,
			Status:       next,
			Notes:        notes,
			RegisteredAt: now,
			UpdatedAt:    now,
			Version:      1,
		}
		if err := a.store.WriteRegistration(txCtx, r, 0); err != nil {
			return 0, err
		}
		reg = &r
		return count + a.ledger.Delta(model.StatusNone, next), nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Cancel cancels a registration by ID. Cancelling a cancelled record succeeds
// and returns it unchanged.
func (a *AdmissionController) Cancel(ctx context.Context, registrationID string) (*model.Registration, error) {
	return a.transitionByID(ctx, "cancel", registrationID, model.StatusCancelled)
}

// CancelByPair cancels the volunteer's active registration for the event. If
// the pair has no active record but its latest one is already cancelled, that
// record is returned as an idempotent success.
func (a *AdmissionController) CancelByPair(ctx context.Context, eventID, volunteerID string) (reg *model.Registration, err error) {
	defer func() { a.observe("cancel", err, "event", eventID, "volunteer", volunteerID) }()

	if eventID, err = requireID("event id", eventID); err != nil {
		return nil, err
	}
	if volunteerID, err = requireID("volunteer id", volunteerID); err != nil {
		return nil, err
	}
	if _, err = a.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}

	err = a.serialize(ctx, "cancel", eventID, func(txCtx context.Context) (int, error) {
		ev, count, err := a.loadEvent(txCtx, eventID)
		if err != nil {
			return 0, err
		}
		cur, err := a.store.GetActiveRegistration(txCtx, eventID, volunteerID)
		if errors.Is(err, model.ErrNotFound) {
			cur, err = a.store.LatestRegistration(txCtx, eventID, volunteerID)
			if err == nil && cur.Status != model.StatusCancelled {
				err = fmt.Errorf("no active registration for volunteer %s: %w", volunteerID, model.ErrNotFound)
			}
		}
		if err != nil {
			return 0, err
		}
		updated, count, err := a.apply(txCtx, ev, count, cur, model.StatusCancelled)
		if err != nil {
			return 0, err
		}
		reg = updated
		return count, nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Confirm approves a Pending registration.
func (a *AdmissionController) Confirm(ctx context.Context, registrationID string) (*model.Registration, error) {
	return a.transitionByID(ctx, "confirm", registrationID, model.StatusConfirmed)
}

// MarkAttendance records whether a confirmed volunteer attended.
func (a *AdmissionController) MarkAttendance(ctx context.Context, registrationID string, attended bool) (*model.Registration, error) {
	status := model.StatusNoShow
	if attended {
		status = model.StatusAttended
	}
	return a.transitionByID(ctx, "mark_attendance", registrationID, status)
}

// DeleteRegistration physically removes a record. It is an administrative
// escape hatch; normal cancellation keeps history.
func (a *AdmissionController) DeleteRegistration(ctx context.Context, registrationID string) (err error) {
	defer func() { a.observe("delete", err, "registration", registrationID) }()

	if registrationID, err = requireID("registration id", registrationID); err != nil {
		return err
	}
	existing, err := a.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return err
	}

	return a.serialize(ctx, "delete", existing.EventID, func(txCtx context.Context) (int, error) {
		count, err := a.ledger.CurrentActiveCount(txCtx, existing.EventID)
		if err != nil {
			return 0, err
		}
		cur, err := a.store.GetRegistration(txCtx, registrationID)
		if err != nil {
			return 0, err
		}
		if err := a.store.DeleteRegistration(txCtx, registrationID); err != nil {
			return 0, err
		}
		return count + a.ledger.Delta(cur.Status, model.StatusNone), nil
	})
}

func (a *AdmissionController) transitionByID(ctx context.Context, operation, registrationID string, requested model.RegistrationStatus) (reg *model.Registration, err error) {
	defer func() { a.observe(operation, err, "registration", registrationID) }()

	if registrationID, err = requireID("registration id", registrationID); err != nil {
		return nil, err
	}
	existing, err := a.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}

	err = a.serialize(ctx, operation, existing.EventID, func(txCtx context.Context) (int, error) {
		ev, count, err := a.loadEvent(txCtx, existing.EventID)
		if err != nil {
			return 0, err
		}
		cur, err := a.store.GetRegistration(txCtx, registrationID)
		if err != nil {
			return 0, err
		}
		updated, count, err := a.apply(txCtx, ev, count, cur, requested)
		if err != nil {
			return 0, err
		}
		reg = updated
		return count, nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// apply moves cur to requested and writes it with a version check. A no-op
// transition writes nothing.
func (a *AdmissionController) apply(ctx context.Context, ev *model.Event, count int, cur *model.Registration, requested model.RegistrationStatus) (*model.Registration, int, error) {
	now := a.clock.Now()
	next, err := model.Transition(cur.Status, requested, model.TransitionContext{
		Event:          ev,
		Now:            now,
		HasFreeSlot:    count < ev.Capacity,
		ReservePending: a.ledger.ReservePending(),
	})
	if err != nil {
		return nil, 0, err
	}
	if next == cur.Status {
		return cur, count, nil
	}

	updated := cur.WithStatus(next, now)
	if err := a.store.WriteRegistration(ctx, updated, cur.Version); err != nil {
		return nil, 0, err
	}
	return &updated, count + a.ledger.Delta(cur.Status, next), nil
}

func (a *AdmissionController) hasActive(ctx context.Context, eventID, volunteerID string) (bool, error) {
	_, err := a.store.GetActiveRegistration(ctx, eventID, volunteerID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, model.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// observe records the outcome of one operation. Business rejections are
// expected traffic and only show up at V(1).
func (a *AdmissionController) observe(operation string, err error, keysAndValues ...any) {
	metrics.RecordDecision(operation, err)
	outcome := metrics.Outcome(err)
	kv := append([]any{"operation", operation, "outcome", outcome}, keysAndValues...)
	if outcome == metrics.OutcomeInternal {
		a.log.Error(err, "admission operation failed", kv...)
		return
	}
	if err != nil {
		kv = append(kv, "reason", err.Error())
	}
	a.log.V(1).Info("admission decision", kv...)
}
