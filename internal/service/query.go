package service

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/clock"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/ledger"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

// QueryService is the read-only façade. It never takes an event's critical
// section and reflects committed state only.
type QueryService struct {
	store  QueryStore
	ledger *ledger.Ledger
	clock  clock.Clock
}

// NewQueryService constructs a QueryService.
func NewQueryService(store QueryStore, led *ledger.Ledger, clk clock.Clock) *QueryService {
	return &QueryService{store: store, ledger: led, clock: clk}
}

// GetEvent returns a single event with its current active count.
func (q *QueryService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	id, err := requireID("event id", id)
	if err != nil {
		return nil, err
	}
	event, err := q.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.ActiveCount, err = q.ledger.Snapshot(ctx, id); err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// ListEvents returns all events, or only active events from today onwards.
func (q *QueryService) ListEvents(ctx context.Context, upcomingOnly bool) ([]model.Event, error) {
	if upcomingOnly {
		today := q.clock.Now()
		return q.store.ListEvents(ctx, &today, q.ledger.CountedStatuses())
	}
	return q.store.ListEvents(ctx, nil, q.ledger.CountedStatuses())
}

// GetRegistration returns one registration.
func (q *QueryService) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	id, err := requireID("registration id", id)
	if err != nil {
		return nil, err
	}
	return q.store.GetRegistration(ctx, id)
}

// ListByEvent returns an event's registrations, optionally filtered by status.
func (q *QueryService) ListByEvent(ctx context.Context, eventID string, statuses []model.RegistrationStatus) ([]model.Registration, error) {
	eventID, err := requireID("event id", eventID)
	if err != nil {
		return nil, err
	}
	if _, err := q.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return q.store.ListByEvent(ctx, eventID, statuses)
}

// ListByVolunteer returns a volunteer's registrations, optionally filtered by status.
func (q *QueryService) ListByVolunteer(ctx context.Context, volunteerID string, statuses []model.RegistrationStatus) ([]model.Registration, error) {
	volunteerID, err := requireID("volunteer id", volunteerID)
	if err != nil {
		return nil, err
	}
	return q.store.ListByVolunteer(ctx, volunteerID, statuses)
}

// CountByStatus returns the number of an event's registrations per status.
func (q *QueryService) CountByStatus(ctx context.Context, eventID string) (model.StatusCounts, error) {
	eventID, err := requireID("event id", eventID)
	if err != nil {
		return nil, err
	}
	if _, err := q.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return q.store.CountByStatus(ctx, eventID)
}

// Availability reports capacity usage for an event. Closed and past events
// are never available.
func (q *QueryService) Availability(ctx context.Context, eventID string) (*model.Availability, error) {
	event, err := q.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	open := event.Status == model.EventActive && !event.IsPast(q.clock.Now())
	return &model.Availability{
		EventID:     event.ID,
		Capacity:    event.Capacity,
		ActiveCount: event.ActiveCount,
		Remaining:   event.Remaining(),
		Available:   open && !event.IsFull(),
	}, nil
}

// HasAvailableSpots reports whether a sign-up could currently be admitted.
func (q *QueryService) HasAvailableSpots(ctx context.Context, eventID string) (bool, error) {
	a, err := q.Availability(ctx, eventID)
	if err != nil {
		return false, err
	}
	return a.Available, nil
}
