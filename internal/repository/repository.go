// Package repository implements the record store behind the admission
// controller. PostgreSQL and SQLite use SQL directly (no ORM); the memory
// store backs tests and single-process demos. All three honour the same
// contract:
//
//   - WithEventLock runs a function in one transaction that holds the event's
//     row lock, so admissions for an event serialize across processes too.
//   - WriteRegistration inserts when expectedVersion is 0 and otherwise
//     updates only if the stored version still equals expectedVersion,
//     returning model.ErrConflict when it does not.
//   - At most one active registration exists per (event, volunteer).
package repository

import (
	"time"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

func statusStrings(statuses []model.RegistrationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// dateOnly normalizes a scheduled date to midnight UTC.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newStatusCounts() model.StatusCounts {
	counts := make(model.StatusCounts, len(model.AllStatuses))
	for _, s := range model.AllStatuses {
		counts[s] = 0
	}
	return counts
}

const (
	eventColumns        = "id, title, description, location, category, scheduled_date, capacity, status, created_at, updated_at"
	registrationColumns = "id, event_id, volunteer_id, status, notes, registered_at, updated_at, version"
)

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner, extra ...any) (model.Event, error) {
	var e model.Event
	var status string
	dest := append([]any{
		&e.ID, &e.Title, &e.Description, &e.Location, &e.Category,
		&e.ScheduledDate, &e.Capacity, &status, &e.CreatedAt, &e.UpdatedAt,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		return model.Event{}, err
	}
	e.Status = model.EventStatus(status)
	e.ScheduledDate = dateOnly(e.ScheduledDate)
	return e, nil
}

func scanRegistration(s scanner) (model.Registration, error) {
	var r model.Registration
	var status string
	if err := s.Scan(&r.ID, &r.EventID, &r.VolunteerID, &status, &r.Notes, &r.RegisteredAt, &r.UpdatedAt, &r.Version); err != nil {
		return model.Registration{}, err
	}
	r.Status = model.RegistrationStatus(status)
	r.RegisteredAt = r.RegisteredAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}
