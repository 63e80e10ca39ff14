// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/clock"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

const maxCapacity = 100_000

// RegistrationStore is the record store contract the admission controller needs.
type RegistrationStore interface {
	WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	GetActiveRegistration(ctx context.Context, eventID, volunteerID string) (*model.Registration, error)
	LatestRegistration(ctx context.Context, eventID, volunteerID string) (*model.Registration, error)
	CountActive(ctx context.Context, eventID string, statuses []model.RegistrationStatus) (int, error)
	WriteRegistration(ctx context.Context, r model.Registration, expectedVersion int64) error
	DeleteRegistration(ctx context.Context, id string) error
}

// VolunteerDirectory answers whether a volunteer exists.
type VolunteerDirectory interface {
	VolunteerExists(ctx context.Context, volunteerID string) (bool, error)
}

// EventStore persists event attributes.
type EventStore interface {
	CreateEvent(ctx context.Context, e model.Event) error
	UpdateEvent(ctx context.Context, e model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
}

// QueryStore serves the read-only façade.
type QueryStore interface {
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context, upcomingFrom *time.Time, counted []model.RegistrationStatus) ([]model.Event, error)
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	ListByEvent(ctx context.Context, eventID string, statuses []model.RegistrationStatus) ([]model.Registration, error)
	ListByVolunteer(ctx context.Context, volunteerID string, statuses []model.RegistrationStatus) ([]model.Registration, error)
	CountByStatus(ctx context.Context, eventID string) (model.StatusCounts, error)
}

// Store is everything the service layer uses; each repository store satisfies it.
type Store interface {
	RegistrationStore
	VolunteerDirectory
	EventStore
	QueryStore
}

// EventService orchestrates event administration. Changes that affect
// admission run inside the event's critical section.
type EventService struct {
	events    EventStore
	admission *AdmissionController
	clock     clock.Clock
	newID     func() string
}

// NewEventService constructs an EventService that serializes with admission.
func NewEventService(events EventStore, admission *AdmissionController) *EventService {
	return &EventService{
		events:    events,
		admission: admission,
		clock:     admission.clock,
		newID:     admission.newID,
	}
}

// CreateEvent validates the request and delegates to the repository.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, fmt.Errorf("%w: event title is required", model.ErrInvalidInput)
	}
	if err := validateCapacity(req.Capacity); err != nil {
		return nil, err
	}
	date, err := ParseDate(req.ScheduledDate)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	event := model.Event{
		ID:            s.newID(),
		Title:         req.Title,
		Description:   strings.TrimSpace(req.Description),
		Location:      strings.TrimSpace(req.Location),
		Category:      strings.TrimSpace(req.Category),
		ScheduledDate: date,
		Capacity:      req.Capacity,
		Status:        model.EventActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.events.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return &event, nil
}

// SetEventStatus moves an event to status. Cancelling or completing an event
// closes it to new sign-ups; existing registrations are left as they are.
func (s *EventService) SetEventStatus(ctx context.Context, eventID string, status model.EventStatus) (event *model.Event, err error) {
	defer func() { s.admission.observe("set_event_status", err, "event", eventID, "status", status) }()

	if eventID, err = requireID("event id", eventID); err != nil {
		return nil, err
	}
	if status, err = model.ParseEventStatus(string(status)); err != nil {
		return nil, err
	}

	err = s.admission.serialize(ctx, "set_event_status", eventID, func(txCtx context.Context) (int, error) {
		ev, count, err := s.admission.loadEvent(txCtx, eventID)
		if err != nil {
			return 0, err
		}
		ev.Status = status
		ev.UpdatedAt = s.clock.Now()
		if err := s.events.UpdateEvent(txCtx, *ev); err != nil {
			return 0, err
		}
		ev.ActiveCount = count
		event = ev
		return count, nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// SetCapacity changes the number of volunteers an event needs. It refuses to
// drop below the registrations already holding a slot.
func (s *EventService) SetCapacity(ctx context.Context, eventID string, capacity int) (event *model.Event, err error) {
	defer func() { s.admission.observe("set_capacity", err, "event", eventID, "capacity", capacity) }()

	if eventID, err = requireID("event id", eventID); err != nil {
		return nil, err
	}
	if err = validateCapacity(capacity); err != nil {
		return nil, err
	}

	err = s.admission.serialize(ctx, "set_capacity", eventID, func(txCtx context.Context) (int, error) {
		ev, count, err := s.admission.loadEvent(txCtx, eventID)
		if err != nil {
			return 0, err
		}
		if capacity < count {
			return 0, fmt.Errorf("%w: %d active, requested %d", model.ErrCapacityBelowActive, count, capacity)
		}
		ev.Capacity = capacity
		ev.UpdatedAt = s.clock.Now()
		if err := s.events.UpdateEvent(txCtx, *ev); err != nil {
			return 0, err
		}
		ev.ActiveCount = count
		event = ev
		return count, nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func validateCapacity(capacity int) error {
	if capacity < 0 {
		return fmt.Errorf("%w: capacity cannot be negative", model.ErrInvalidInput)
	}
	if capacity > maxCapacity {
		return fmt.Errorf("%w: capacity cannot exceed 100,000", model.ErrInvalidInput)
	}
	return nil
}

// ParseDate accepts a calendar date (2006-01-02) or an RFC 3339 timestamp
// and returns midnight UTC of that day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: scheduled_date is required", model.ErrInvalidInput)
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}, fmt.Errorf("%w: scheduled_date must be YYYY-MM-DD", model.ErrInvalidInput)
		}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func requireID(name, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: %s is required", model.ErrInvalidInput, name)
	}
	return id, nil
}
