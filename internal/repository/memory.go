package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

// MemoryStore keeps records in process memory. It enforces the same
// uniqueness and version rules as the SQL stores but offers no cross-process
// locking: WithEventLock relies on the caller's in-process serialization.
type MemoryStore struct {
	mu            sync.RWMutex
	events        map[string]model.Event
	volunteers    map[string]model.Volunteer
	registrations map[string]model.Registration
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:        make(map[string]model.Event),
		volunteers:    make(map[string]model.Volunteer),
		registrations: make(map[string]model.Registration),
	}
}

// WithEventLock verifies the event exists and runs fn.
func (s *MemoryStore) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) error {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return err
	}
	return fn(ctx)
}

// CreateEvent inserts a new event.
func (s *MemoryStore) CreateEvent(_ context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("event %s: %w", e.ID, model.ErrConflict)
	}
	e.ScheduledDate = dateOnly(e.ScheduledDate)
	e.ActiveCount = 0
	s.events[e.ID] = e
	return nil
}

// UpdateEvent overwrites the mutable attributes of an event.
func (s *MemoryStore) UpdateEvent(_ context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.events[e.ID]
	if !ok {
		return fmt.Errorf("event %s: %w", e.ID, model.ErrNotFound)
	}
	e.CreatedAt = old.CreatedAt
	e.ScheduledDate = dateOnly(e.ScheduledDate)
	e.ActiveCount = 0
	s.events[e.ID] = e
	return nil
}

// GetEvent returns a single event or model.ErrNotFound.
func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
	}
	return &e, nil
}

// ListEvents returns events ordered by date with their counted registrations.
func (s *MemoryStore) ListEvents(_ context.Context, upcomingFrom *time.Time, counted []model.RegistrationStatus) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []model.Event
	for _, e := range s.events {
		if upcomingFrom != nil && (e.Status != model.EventActive || e.ScheduledDate.Before(dateOnly(*upcomingFrom))) {
			continue
		}
		e.ActiveCount = s.countLocked(e.ID, counted)
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].ScheduledDate.Equal(events[j].ScheduledDate) {
			return events[i].ScheduledDate.Before(events[j].ScheduledDate)
		}
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

// CreateVolunteer adds a directory entry.
func (s *MemoryStore) CreateVolunteer(_ context.Context, v model.Volunteer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.volunteers[v.ID]; ok {
		return fmt.Errorf("volunteer %s: %w", v.ID, model.ErrConflict)
	}
	s.volunteers[v.ID] = v
	return nil
}

// VolunteerExists reports whether the directory knows volunteerID.
func (s *MemoryStore) VolunteerExists(_ context.Context, volunteerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.volunteers[volunteerID]
	return ok, nil
}

// GetRegistration returns a registration by ID or model.ErrNotFound.
func (s *MemoryStore) GetRegistration(_ context.Context, id string) (*model.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registrations[id]
	if !ok {
		return nil, fmt.Errorf("registration %s: %w", id, model.ErrNotFound)
	}
	return &r, nil
}

// GetActiveRegistration returns the pair's active registration or model.ErrNotFound.
func (s *MemoryStore) GetActiveRegistration(_ context.Context, eventID, volunteerID string) (*model.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.activeLocked(eventID, volunteerID, ""); ok {
		return &r, nil
	}
	return nil, fmt.Errorf("active registration: %w", model.ErrNotFound)
}

// LatestRegistration returns the most recently updated record for the pair in any status.
func (s *MemoryStore) LatestRegistration(_ context.Context, eventID, volunteerID string) (*model.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.Registration
	for _, r := range s.registrations {
		if r.EventID != eventID || r.VolunteerID != volunteerID {
			continue
		}
		if latest == nil || r.UpdatedAt.After(latest.UpdatedAt) {
			latest = &r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("registration: %w", model.ErrNotFound)
	}
	return latest, nil
}

// CountActive counts the event's registrations whose status is in statuses.
func (s *MemoryStore) CountActive(_ context.Context, eventID string, statuses []model.RegistrationStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(eventID, statuses), nil
}

// WriteRegistration inserts (expectedVersion == 0) or conditionally updates a registration.
func (s *MemoryStore) WriteRegistration(_ context.Context, r model.Registration, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expectedVersion == 0 {
		if _, ok := s.registrations[r.ID]; ok {
			return fmt.Errorf("registration %s: %w", r.ID, model.ErrConflict)
		}
		if _, ok := s.events[r.EventID]; !ok {
			return fmt.Errorf("event %s: %w", r.EventID, model.ErrNotFound)
		}
		if _, ok := s.volunteers[r.VolunteerID]; !ok {
			return fmt.Errorf("volunteer %s: %w", r.VolunteerID, model.ErrNotFound)
		}
	} else {
		cur, ok := s.registrations[r.ID]
		if !ok {
			return fmt.Errorf("registration %s: %w", r.ID, model.ErrNotFound)
		}
		if cur.Version != expectedVersion {
			return fmt.Errorf("registration %s at version %d: %w", r.ID, expectedVersion, model.ErrConflict)
		}
		// Identity fields are immutable.
		r.EventID, r.VolunteerID, r.RegisteredAt = cur.EventID, cur.VolunteerID, cur.RegisteredAt
	}

	if r.Status.IsActive() {
		if _, ok := s.activeLocked(r.EventID, r.VolunteerID, r.ID); ok {
			return model.ErrDuplicateRegistration
		}
	}
	s.registrations[r.ID] = r
	return nil
}

// DeleteRegistration physically removes a registration.
func (s *MemoryStore) DeleteRegistration(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[id]; !ok {
		return fmt.Errorf("registration %s: %w", id, model.ErrNotFound)
	}
	delete(s.registrations, id)
	return nil
}

// ListByEvent returns the event's registrations, oldest first.
func (s *MemoryStore) ListByEvent(_ context.Context, eventID string, statuses []model.RegistrationStatus) ([]model.Registration, error) {
	regs := s.filter(func(r model.Registration) bool {
		return r.EventID == eventID && matchStatus(r.Status, statuses)
	})
	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
		}
		return regs[i].ID < regs[j].ID
	})
	return regs, nil
}

// ListByVolunteer returns the volunteer's registrations, newest first.
func (s *MemoryStore) ListByVolunteer(_ context.Context, volunteerID string, statuses []model.RegistrationStatus) ([]model.Registration, error) {
	regs := s.filter(func(r model.Registration) bool {
		return r.VolunteerID == volunteerID && matchStatus(r.Status, statuses)
	})
	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			return regs[i].RegisteredAt.After(regs[j].RegisteredAt)
		}
		return regs[i].ID < regs[j].ID
	})
	return regs, nil
}

// CountByStatus returns the number of the event's registrations in each status.
func (s *MemoryStore) CountByStatus(_ context.Context, eventID string) (model.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := newStatusCounts()
	for _, r := range s.registrations {
		if r.EventID == eventID {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) filter(keep func(model.Registration) bool) []model.Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Registration
	for _, r := range s.registrations {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemoryStore) activeLocked(eventID, volunteerID, exceptID string) (model.Registration, bool) {
	for _, r := range s.registrations {
		if r.EventID == eventID && r.VolunteerID == volunteerID && r.ID != exceptID && r.Status.IsActive() {
			return r, true
		}
	}
	return model.Registration{}, false
}

func (s *MemoryStore) countLocked(eventID string, statuses []model.RegistrationStatus) int {
	n := 0
	for _, r := range s.registrations {
		if r.EventID == eventID && slices.Contains(statuses, r.Status) {
			n++
		}
	}
	return n
}

func matchStatus(s model.RegistrationStatus, filter []model.RegistrationStatus) bool {
	return filter == nil || slices.Contains(filter, s)
}
