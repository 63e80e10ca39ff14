package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := &Event{ID: "e1", Capacity: 2, Status: EventActive, ScheduledDate: now.AddDate(0, 0, 3)}
	today := &Event{ID: "e2", Capacity: 2, Status: EventActive, ScheduledDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	yesterday := &Event{ID: "e3", Capacity: 2, Status: EventActive, ScheduledDate: now.AddDate(0, 0, -1)}
	cancelled := &Event{ID: "e4", Capacity: 10, Status: EventCancelled, ScheduledDate: now.AddDate(0, 0, 3)}
	completed := &Event{ID: "e5", Capacity: 10, Status: EventCompleted, ScheduledDate: now.AddDate(0, 0, 3)}

	tests := []struct {
		name     string
		from, to RegistrationStatus
		tc       TransitionContext
		want     RegistrationStatus
		wantErr  error
	}{
		{
			name: "sign up confirmed with free slot",
			from: StatusNone, to: StatusConfirmed,
			tc:   TransitionContext{Event: future, Now: now, HasFreeSlot: true},
			want: StatusConfirmed,
		},
		{
			name: "sign up pending with free slot",
			from: StatusNone, to: StatusPending,
			tc:   TransitionContext{Event: future, Now: now, HasFreeSlot: true},
			want: StatusPending,
		},
		{
			name: "sign up on the event day is allowed",
			from: StatusNone, to: StatusConfirmed,
			tc:   TransitionContext{Event: today, Now: now, HasFreeSlot: true},
			want: StatusConfirmed,
		},
		{
			name: "sign up when full",
			from: StatusNone, to: StatusConfirmed,
			tc:      TransitionContext{Event: future, Now: now},
			wantErr: ErrEventFull,
		},
		{
			name: "duplicate wins over full",
			from: StatusNone, to: StatusConfirmed,
			tc:      TransitionContext{Event: future, Now: now, HasActive: true},
			wantErr: ErrDuplicateRegistration,
		},
		{
			name: "cancelled event regardless of capacity",
			from: StatusNone, to: StatusConfirmed,
			tc:      TransitionContext{Event: cancelled, Now: now, HasFreeSlot: true},
			wantErr: ErrEventNotOpen,
		},
		{
			name: "completed event",
			from: StatusNone, to: StatusConfirmed,
			tc:      TransitionContext{Event: completed, Now: now, HasFreeSlot: true},
			wantErr: ErrEventNotOpen,
		},
		{
			name: "past event",
			from: StatusNone, to: StatusConfirmed,
			tc:      TransitionContext{Event: yesterday, Now: now, HasFreeSlot: true},
			wantErr: ErrEventNotOpen,
		},
		{
			name: "sign up straight to attended",
			from: StatusNone, to: StatusAttended,
			tc:      TransitionContext{Event: future, Now: now, HasFreeSlot: true},
			wantErr: ErrInvalidTransition,
		},
		{
			name: "confirm pending with free slot",
			from: StatusPending, to: StatusConfirmed,
			tc:   TransitionContext{Event: future, Now: now, HasFreeSlot: true},
			want: StatusConfirmed,
		},
		{
			name: "confirm pending when full",
			from: StatusPending, to: StatusConfirmed,
			tc:      TransitionContext{Event: future, Now: now},
			wantErr: ErrEventFull,
		},
		{
			name: "confirm reserved pending when full",
			from: StatusPending, to: StatusConfirmed,
			tc:   TransitionContext{Event: future, Now: now, ReservePending: true},
			want: StatusConfirmed,
		},
		{
			name: "confirm pending on cancelled event",
			from: StatusPending, to: StatusConfirmed,
			tc:      TransitionContext{Event: cancelled, Now: now, HasFreeSlot: true},
			wantErr: ErrEventNotOpen,
		},
		{
			name: "cancel pending",
			from: StatusPending, to: StatusCancelled,
			tc:   TransitionContext{Event: cancelled, Now: now},
			want: StatusCancelled,
		},
		{
			name: "cancel confirmed on past event",
			from: StatusConfirmed, to: StatusCancelled,
			tc:   TransitionContext{Event: yesterday, Now: now},
			want: StatusCancelled,
		},
		{
			name: "cancel cancelled is a no-op",
			from: StatusCancelled, to: StatusCancelled,
			tc:   TransitionContext{Event: future, Now: now},
			want: StatusCancelled,
		},
		{
			name: "attended once the event started",
			from: StatusConfirmed, to: StatusAttended,
			tc:   TransitionContext{Event: today, Now: now},
			want: StatusAttended,
		},
		{
			name: "no-show after the event",
			from: StatusConfirmed, to: StatusNoShow,
			tc:   TransitionContext{Event: yesterday, Now: now},
			want: StatusNoShow,
		},
		{
			name: "attended before the event",
			from: StatusConfirmed, to: StatusAttended,
			tc:      TransitionContext{Event: future, Now: now},
			wantErr: ErrInvalidTransition,
		},
		{
			name: "pending cannot attend",
			from: StatusPending, to: StatusAttended,
			tc:      TransitionContext{Event: yesterday, Now: now},
			wantErr: ErrInvalidTransition,
		},
		{
			name: "cancelled cannot be reconfirmed",
			from: StatusCancelled, to: StatusConfirmed,
			tc:      TransitionContext{Event: future, Now: now, HasFreeSlot: true},
			wantErr: ErrInvalidTransition,
		},
		{
			name: "no-show is terminal",
			from: StatusNoShow, to: StatusCancelled,
			tc:      TransitionContext{Event: yesterday, Now: now},
			wantErr: ErrInvalidTransition,
		},
		{
			name: "attended cannot be cancelled",
			from: StatusAttended, to: StatusCancelled,
			tc:      TransitionContext{Event: yesterday, Now: now},
			wantErr: ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Transition(tt.from, tt.to, tt.tc)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransitionTableIsClosed(t *testing.T) {
	t.Parallel()

	for _, from := range append([]RegistrationStatus{StatusNone}, AllStatuses...) {
		_, ok := transitions[from]
		assert.Truef(t, ok, "status %q missing from transition table", from)
	}
	for _, terminal := range []RegistrationStatus{StatusNoShow, StatusAttended} {
		for _, to := range AllStatuses {
			assert.Falsef(t, CanTransition(terminal, to), "%s -> %s should be rejected", terminal, to)
		}
	}
}

func TestConsumesCapacity(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusConfirmed.ConsumesCapacity(false))
	assert.True(t, StatusAttended.ConsumesCapacity(false))
	assert.False(t, StatusPending.ConsumesCapacity(false))
	assert.True(t, StatusPending.ConsumesCapacity(true))
	assert.False(t, StatusCancelled.ConsumesCapacity(true))
	assert.False(t, StatusNoShow.ConsumesCapacity(true))

	assert.Equal(t, []RegistrationStatus{StatusConfirmed, StatusAttended}, CountedStatuses(false))
	assert.Len(t, CountedStatuses(true), 3)
}

func TestParseStatusList(t *testing.T) {
	t.Parallel()

	got, err := ParseStatusList("Confirmed, no-show,,attended")
	require.NoError(t, err)
	assert.Equal(t, []RegistrationStatus{StatusConfirmed, StatusNoShow, StatusAttended}, got)

	got, err = ParseStatusList("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseStatusList("confirmed,waitlisted")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestWithStatus(t *testing.T) {
	t.Parallel()

	registeredAt := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	now := registeredAt.Add(time.Hour)
	reg := Registration{ID: "r1", Status: StatusConfirmed, RegisteredAt: registeredAt, UpdatedAt: registeredAt, Version: 1}

	next := reg.WithStatus(StatusCancelled, now)

	assert.Equal(t, StatusCancelled, next.Status)
	assert.Equal(t, int64(2), next.Version)
	assert.Equal(t, now, next.UpdatedAt)
	assert.Equal(t, registeredAt, next.RegisteredAt)
	assert.Equal(t, StatusConfirmed, reg.Status, "original value must be untouched")
}

func TestEventDates(t *testing.T) {
	t.Parallel()

	ev := &Event{ScheduledDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}

	assert.False(t, ev.HasStarted(time.Date(2026, 4, 30, 23, 59, 0, 0, time.UTC)))
	assert.True(t, ev.HasStarted(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)))
	assert.False(t, ev.IsPast(time.Date(2026, 5, 1, 23, 0, 0, 0, time.UTC)))
	assert.True(t, ev.IsPast(time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)))
}
