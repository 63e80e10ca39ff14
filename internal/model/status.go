package model

import (
	"fmt"
	"strings"
	"time"
)

// RegistrationStatus is the lifecycle state of a single registration record.
type RegistrationStatus string

const (
	// StatusNone stands for "no record yet" as the source of a sign-up.
	StatusNone      RegistrationStatus = ""
	StatusPending   RegistrationStatus = "pending"
	StatusConfirmed RegistrationStatus = "confirmed"
	StatusCancelled RegistrationStatus = "cancelled"
	StatusAttended  RegistrationStatus = "attended"
	StatusNoShow    RegistrationStatus = "no_show"
)

// AllStatuses lists every persisted status in lifecycle order.
var AllStatuses = []RegistrationStatus{
	StatusPending,
	StatusConfirmed,
	StatusCancelled,
	StatusAttended,
	StatusNoShow,
}

// ParseStatus accepts any casing of a persisted status ("noshow" and "no-show" included).
func ParseStatus(s string) (RegistrationStatus, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	if norm == "noshow" {
		norm = string(StatusNoShow)
	}
	for _, st := range AllStatuses {
		if string(st) == norm {
			return st, nil
		}
	}
	return StatusNone, fmt.Errorf("%w: unknown registration status %q", ErrInvalidInput, s)
}

// ParseStatusList parses a comma separated filter such as "confirmed,attended".
// An empty string yields a nil filter, meaning "all statuses".
func ParseStatusList(s string) ([]RegistrationStatus, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []RegistrationStatus
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, err := ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// IsActive reports whether at most one record in this status may exist per (event, volunteer).
func (s RegistrationStatus) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusAttended
}

// IsTerminal reports whether no further transition is possible from s.
func (s RegistrationStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusNoShow
}

// ConsumesCapacity reports whether a record in status s occupies a slot.
func (s RegistrationStatus) ConsumesCapacity(reservePending bool) bool {
	switch s {
	case StatusConfirmed, StatusAttended:
		return true
	case StatusPending:
		return reservePending
	}
	return false
}

// ActiveStatuses returns the statuses subject to the per-pair uniqueness rule.
func ActiveStatuses() []RegistrationStatus {
	return []RegistrationStatus{StatusPending, StatusConfirmed, StatusAttended}
}

// CountedStatuses returns the statuses the capacity ledger counts under the given policy.
func CountedStatuses(reservePending bool) []RegistrationStatus {
	if reservePending {
		return []RegistrationStatus{StatusPending, StatusConfirmed, StatusAttended}
	}
	return []RegistrationStatus{StatusConfirmed, StatusAttended}
}

// transitions is the closed table of structurally legal moves.
var transitions = map[RegistrationStatus][]RegistrationStatus{
	StatusNone:      {StatusPending, StatusConfirmed},
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusAttended, StatusNoShow},
	StatusCancelled: {StatusCancelled},
	StatusAttended:  nil,
	StatusNoShow:    nil,
}

// CanTransition reports whether from -> to appears in the transition table,
// ignoring event and capacity preconditions.
func CanTransition(from, to RegistrationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionContext carries the facts a transition's preconditions depend on.
type TransitionContext struct {
	Event *Event
	Now   time.Time
	// HasActive is true when another active record exists for the same pair.
	HasActive bool
	// HasFreeSlot is the ledger's answer evaluated inside the event's critical section.
	HasFreeSlot    bool
	ReservePending bool
}

// Transition decides whether current may move to requested. It performs no I/O.
// Cancelled -> Cancelled succeeds unchanged so cancellation is idempotent.
func Transition(current, requested RegistrationStatus, tc TransitionContext) (RegistrationStatus, error) {
	if !CanTransition(current, requested) {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, label(current), label(requested))
	}
	if tc.Event == nil {
		return current, fmt.Errorf("%w: event required", ErrInvalidInput)
	}

	switch {
	case current == StatusNone:
		if tc.Event.Status != EventActive || tc.Event.IsPast(tc.Now) {
			return current, ErrEventNotOpen
		}
		if tc.HasActive {
			return current, ErrDuplicateRegistration
		}
		if !tc.HasFreeSlot {
			return current, ErrEventFull
		}

	case current == StatusPending && requested == StatusConfirmed:
		if tc.Event.Status != EventActive {
			return current, ErrEventNotOpen
		}
		if !tc.ReservePending && !tc.HasFreeSlot {
			return current, ErrEventFull
		}

	case requested == StatusAttended, requested == StatusNoShow:
		if !tc.Event.HasStarted(tc.Now) {
			return current, fmt.Errorf("%w: event has not started", ErrInvalidTransition)
		}
	}
	return requested, nil
}

func label(s RegistrationStatus) string {
	if s == StatusNone {
		return "none"
	}
	return string(s)
}
