// Package model defines the core domain types for the volunteer sign-up system.
package model

import (
	"fmt"
	"strings"
	"time"
)

// EventStatus is the administrative state of an event.
type EventStatus string

const (
	EventActive    EventStatus = "active"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// ParseEventStatus accepts any casing of a known event status.
func ParseEventStatus(s string) (EventStatus, error) {
	switch st := EventStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case EventActive, EventCompleted, EventCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown event status %q", ErrInvalidInput, s)
}

// Event is an occasion that needs a fixed number of volunteers.
type Event struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Location      string      `json:"location"`
	Category      string      `json:"category"`
	ScheduledDate time.Time   `json:"scheduled_date"`
	Capacity      int         `json:"capacity"`
	Status        EventStatus `json:"status"`
	// ActiveCount is a read-model snapshot of capacity-consuming registrations.
	ActiveCount int       `json:"active_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Remaining returns the number of open slots in the snapshot.
func (e *Event) Remaining() int {
	if r := e.Capacity - e.ActiveCount; r > 0 {
		return r
	}
	return 0
}

// IsFull returns true when no slots remain in the snapshot.
func (e *Event) IsFull() bool {
	return e.ActiveCount >= e.Capacity
}

// StartsAt is the first instant of the scheduled day.
func (e *Event) StartsAt() time.Time {
	y, m, d := e.ScheduledDate.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.ScheduledDate.Location())
}

// HasStarted reports whether the scheduled day has begun at now.
func (e *Event) HasStarted(now time.Time) bool {
	return !now.Before(e.StartsAt())
}

// IsPast reports whether the whole scheduled day lies before now.
func (e *Event) IsPast(now time.Time) bool {
	return !now.Before(e.StartsAt().AddDate(0, 0, 1))
}

// Volunteer is the minimal view of a directory user the core needs.
type Volunteer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Registration represents a volunteer's sign-up for an event.
type Registration struct {
	ID           string             `json:"id"`
	EventID      string             `json:"event_id"`
	VolunteerID  string             `json:"volunteer_id"`
	Status       RegistrationStatus `json:"status"`
	Notes        string             `json:"notes,omitempty"`
	RegisteredAt time.Time          `json:"registered_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Version      int64              `json:"version"`
}

// WithStatus returns a copy of r moved to status at now, with the version bumped.
func (r Registration) WithStatus(status RegistrationStatus, now time.Time) Registration {
	r.Status = status
	r.UpdatedAt = now
	r.Version++
	return r
}

// StatusCounts maps each registration status to its number of records.
type StatusCounts map[RegistrationStatus]int

// Availability is the answer to "can someone still sign up".
type Availability struct {
	EventID     string `json:"event_id"`
	Capacity    int    `json:"capacity"`
	ActiveCount int    `json:"active_count"`
	Remaining   int    `json:"remaining"`
	Available   bool   `json:"available"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Location      string `json:"location"`
	Category      string `json:"category"`
	ScheduledDate string `json:"scheduled_date"`
	Capacity      int    `json:"capacity"`
}

// RegisterRequest is the payload for signing up for an event.
type RegisterRequest struct {
	Notes string `json:"notes"`
}

// EventStatusRequest changes an event's administrative status.
type EventStatusRequest struct {
	Status string `json:"status"`
}

// CapacityRequest changes the number of volunteers an event needs.
type CapacityRequest struct {
	Capacity int `json:"capacity"`
}

// AttendanceRequest records whether a confirmed volunteer showed up.
type AttendanceRequest struct {
	Attended bool `json:"attended"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// BookingResult summarises the outcome of a single registration attempt.
// Used in the concurrent test harness.
type BookingResult struct {
	VolunteerID  string
	Registration *Registration
	Error        error
}
