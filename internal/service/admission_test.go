package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/clock"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/ledger"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/repository"
)

var start = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

const eventDay = "2026-04-20"

type fixture struct {
	store     *repository.MemoryStore
	clock     *clock.Manual
	ledger    *ledger.Ledger
	admission *AdmissionController
	events    *EventService
	query     *QueryService
}

type fixtureConfig struct {
	reservePending bool
	store          AdmissionStore
	opts           []Option
}

func newFixture(t *testing.T, cfgs ...func(*fixtureConfig)) *fixture {
	t.Helper()
	mem := repository.NewMemoryStore()
	cfg := fixtureConfig{store: mem}
	for _, c := range cfgs {
		c(&cfg)
	}

	clk := clock.NewManual(start)
	led := ledger.New(mem, cfg.reservePending, time.Minute)
	t.Cleanup(led.Close)

	opts := append([]Option{
		WithClock(clk),
		WithLogger(testr.New(t)),
		WithRetryBackoff(time.Millisecond),
	}, cfg.opts...)
	admission := NewAdmissionController(cfg.store, led, opts...)

	return &fixture{
		store:     mem,
		clock:     clk,
		ledger:    led,
		admission: admission,
		events:    NewEventService(mem, admission),
		query:     NewQueryService(mem, led, clk),
	}
}

func reservePending(c *fixtureConfig) { c.reservePending = true }

func withOptions(opts ...Option) func(*fixtureConfig) {
	return func(c *fixtureConfig) { c.opts = append(c.opts, opts...) }
}

func withStore(wrap func(*repository.MemoryStore) AdmissionStore) func(*fixtureConfig) {
	return func(c *fixtureConfig) { c.store = wrap(c.store.(*repository.MemoryStore)) }
}

func (f *fixture) event(t *testing.T, capacity int) string {
	t.Helper()
	ev, err := f.events.CreateEvent(context.Background(), model.CreateEventRequest{
		Title:         "Beach clean-up",
		ScheduledDate: eventDay,
		Capacity:      capacity,
	})
	require.NoError(t, err)
	return ev.ID
}

func (f *fixture) volunteers(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("vol-%03d", i)
		require.NoError(t, f.store.CreateVolunteer(context.Background(), model.Volunteer{ID: ids[i], Name: ids[i]}))
	}
	return ids
}

func (f *fixture) activeCount(t *testing.T, eventID string) int {
	t.Helper()
	n, err := f.ledger.CurrentActiveCount(context.Background(), eventID)
	require.NoError(t, err)
	return n
}

func TestConcreteScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 1)
	vols := f.volunteers(t, 2)
	volA, volB := vols[0], vols[1]

	a, err := f.admission.Register(ctx, eventID, volA, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, a.Status)

	_, err = f.admission.Register(ctx, eventID, volB, "")
	require.ErrorIs(t, err, model.ErrEventFull)

	cancelled, err := f.admission.CancelByPair(ctx, eventID, volA)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)

	b, err := f.admission.Register(ctx, eventID, volB, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, b.Status)

	assert.Equal(t, 1, f.activeCount(t, eventID))
	snap, err := f.ledger.Snapshot(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap)
}

func TestRaceForLastSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vols := f.volunteers(t, 2)

	for trial := range 25 {
		eventID := f.event(t, 1)
		results := make([]model.BookingResult, len(vols))

		var g errgroup.Group
		for i, vol := range vols {
			g.Go(func() error {
				reg, err := f.admission.Register(ctx, eventID, vol, "")
				results[i] = model.BookingResult{VolunteerID: vol, Registration: reg, Error: err}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		winners := 0
		for _, r := range results {
			if r.Error == nil {
				winners++
				assert.Equal(t, model.StatusConfirmed, r.Registration.Status)
			} else {
				assert.ErrorIs(t, r.Error, model.ErrEventFull, "trial %d", trial)
			}
		}
		assert.Equal(t, 1, winners, "trial %d", trial)
		assert.Equal(t, 1, f.activeCount(t, eventID))
	}
}

func TestArrivalOrderDecidesWinner(t *testing.T) {
	for _, order := range [][]int{{0, 1}, {1, 0}} {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			eventID := f.event(t, 1)
			vols := f.volunteers(t, 2)

			unlock, err := f.admission.locks.Lock(ctx, eventID)
			require.NoError(t, err)

			errs := make([]error, 2)
			var wg sync.WaitGroup
			for _, i := range order {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = f.admission.Register(ctx, eventID, vols[i], "")
				}()
				// Queue the callers one after another behind the held section.
				time.Sleep(30 * time.Millisecond)
			}
			unlock()
			wg.Wait()

			first, second := order[0], order[1]
			require.NoError(t, errs[first])
			require.ErrorIs(t, errs[second], model.ErrEventFull)
		})
	}
}

func TestCapacityInvariantUnderConcurrency(t *testing.T) {
	const capacity = 5
	var violations atomic.Int32
	f := newFixture(t, withStore(func(m *repository.MemoryStore) AdmissionStore {
		return &auditStore{MemoryStore: m, capacity: capacity, violations: &violations}
	}))
	ctx := context.Background()
	eventID := f.event(t, capacity)
	vols := f.volunteers(t, 40)

	var admitted atomic.Int32
	var g errgroup.Group
	for i, vol := range vols {
		g.Go(func() error {
			reg, err := f.admission.Register(ctx, eventID, vol, "")
			switch {
			case err == nil:
				admitted.Add(1)
			case model.IsRetryable(err):
				return nil
			default:
				assert.ErrorIs(t, err, model.ErrEventFull)
				return nil
			}
			if i%2 == 0 {
				_, err = f.admission.Cancel(ctx, reg.ID)
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Zero(t, violations.Load())
	assert.GreaterOrEqual(t, admitted.Load(), int32(capacity))
	assert.LessOrEqual(t, f.activeCount(t, eventID), capacity)

	regs, err := f.query.ListByEvent(ctx, eventID, model.ActiveStatuses())
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, r := range regs {
		assert.False(t, seen[r.VolunteerID], "duplicate active registration for %s", r.VolunteerID)
		seen[r.VolunteerID] = true
	}
}

func TestSlotRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 2)
	vols := f.volunteers(t, 3)

	first, err := f.admission.Register(ctx, eventID, vols[0], "")
	require.NoError(t, err)
	_, err = f.admission.Register(ctx, eventID, vols[1], "")
	require.NoError(t, err)

	_, err = f.admission.Register(ctx, eventID, vols[2], "")
	require.ErrorIs(t, err, model.ErrEventFull)

	_, err = f.admission.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.activeCount(t, eventID))

	_, err = f.admission.Register(ctx, eventID, vols[2], "")
	require.NoError(t, err)

	avail, err := f.query.Availability(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 2, avail.ActiveCount)
	assert.Equal(t, 2, avail.Capacity)
	assert.False(t, avail.Available)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 3)
	vols := f.volunteers(t, 1)

	reg, err := f.admission.Register(ctx, eventID, vols[0], "")
	require.NoError(t, err)

	once, err := f.admission.Cancel(ctx, reg.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	twice, err := f.admission.Cancel(ctx, reg.ID)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCancelled, twice.Status)
	assert.Equal(t, once.Version, twice.Version)
	assert.True(t, once.UpdatedAt.Equal(twice.UpdatedAt), "a no-op cancel writes nothing")

	byPair, err := f.admission.CancelByPair(ctx, eventID, vols[0])
	require.NoError(t, err)
	assert.Equal(t, reg.ID, byPair.ID)
	assert.Equal(t, 0, f.activeCount(t, eventID))
}

func TestCancelByPairWithoutRegistration(t *testing.T) {
	f := newFixture(t)
	eventID := f.event(t, 3)
	vols := f.volunteers(t, 1)

	_, err := f.admission.CancelByPair(context.Background(), eventID, vols[0])
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestRegisterRejectsClosedEvents(t *testing.T) {
	for _, status := range []model.EventStatus{model.EventCancelled, model.EventCompleted} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			eventID := f.event(t, 100)
			vols := f.volunteers(t, 1)

			_, err := f.events.SetEventStatus(ctx, eventID, status)
			require.NoError(t, err)

			_, err = f.admission.Register(ctx, eventID, vols[0], "")
			require.ErrorIs(t, err, model.ErrEventNotOpen)
		})
	}

	t.Run("past", func(t *testing.T) {
		f := newFixture(t)
		eventID := f.event(t, 100)
		vols := f.volunteers(t, 1)

		f.clock.Set(time.Date(2026, 4, 21, 0, 0, 0, 0, time.UTC))
		_, err := f.admission.Register(context.Background(), eventID, vols[0], "")
		require.ErrorIs(t, err, model.ErrEventNotOpen)
	})

	t.Run("on the day", func(t *testing.T) {
		f := newFixture(t)
		eventID := f.event(t, 100)
		vols := f.volunteers(t, 1)

		f.clock.Set(time.Date(2026, 4, 20, 18, 0, 0, 0, time.UTC))
		_, err := f.admission.Register(context.Background(), eventID, vols[0], "")
		require.NoError(t, err)
	})
}

func TestDuplicateRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 5)
	vols := f.volunteers(t, 1)

	first, err := f.admission.Register(ctx, eventID, vols[0], "bringing gloves")
	require.NoError(t, err)
	assert.Equal(t, "bringing gloves", first.Notes)

	_, err = f.admission.Register(ctx, eventID, vols[0], "")
	require.ErrorIs(t, err, model.ErrDuplicateRegistration)

	_, err = f.admission.Cancel(ctx, first.ID)
	require.NoError(t, err)

	again, err := f.admission.Register(ctx, eventID, vols[0], "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID, "a new sign-up creates a new record")

	history, err := f.query.ListByVolunteer(ctx, vols[0], nil)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestValidationHappensBeforeSerialization(t *testing.T) {
	counting := &countingStore{}
	f := newFixture(t, withStore(func(m *repository.MemoryStore) AdmissionStore {
		counting.MemoryStore = m
		return counting
	}))
	ctx := context.Background()
	eventID := f.event(t, 5)
	vols := f.volunteers(t, 1)

	tests := []struct {
		name        string
		eventID     string
		volunteerID string
		want        error
	}{
		{"blank event", "  ", vols[0], model.ErrInvalidInput},
		{"blank volunteer", eventID, "", model.ErrInvalidInput},
		{"unknown event", "no-such-event", vols[0], model.ErrNotFound},
		{"unknown volunteer", eventID, "ghost", model.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.admission.Register(ctx, tt.eventID, tt.volunteerID, "")
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, counting.locks.Load())

	_, err := f.admission.Cancel(ctx, "no-such-registration")
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Zero(t, counting.locks.Load())
}

func TestConflictIsRetried(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int32
		wantErr   error
		wantTries int32
	}{
		{"recovers", 2, nil, 3},
		{"gives up", 5, model.ErrConflict, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flaky := &conflictStore{}
			flaky.remaining.Store(tt.conflicts)
			f := newFixture(t,
				withStore(func(m *repository.MemoryStore) AdmissionStore {
					flaky.MemoryStore = m
					return flaky
				}),
				withOptions(WithMaxAttempts(3)),
			)
			ctx := context.Background()
			eventID := f.event(t, 1)
			vols := f.volunteers(t, 1)

			reg, err := f.admission.Register(ctx, eventID, vols[0], "")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, f.activeCount(t, eventID))
			} else {
				require.NoError(t, err)
				assert.Equal(t, model.StatusConfirmed, reg.Status)
				assert.Equal(t, 1, f.activeCount(t, eventID))
			}
			assert.Equal(t, tt.wantTries, flaky.writes.Load())
		})
	}
}

func TestBusinessRejectionsAreNotRetried(t *testing.T) {
	counting := &countingStore{}
	f := newFixture(t, withStore(func(m *repository.MemoryStore) AdmissionStore {
		counting.MemoryStore = m
		return counting
	}))
	ctx := context.Background()
	eventID := f.event(t, 1)
	vols := f.volunteers(t, 2)

	_, err := f.admission.Register(ctx, eventID, vols[0], "")
	require.NoError(t, err)
	counting.locks.Store(0)

	_, err = f.admission.Register(ctx, eventID, vols[1], "")
	require.ErrorIs(t, err, model.ErrEventFull)
	assert.Equal(t, int32(1), counting.locks.Load())
}

func TestBusyWhenSectionIsHeld(t *testing.T) {
	f := newFixture(t, withOptions(WithLockTimeout(20*time.Millisecond), WithMaxAttempts(2)))
	ctx := context.Background()
	eventID := f.event(t, 5)
	vols := f.volunteers(t, 1)

	unlock, err := f.admission.locks.Lock(ctx, eventID)
	require.NoError(t, err)
	defer unlock()

	_, err = f.admission.Register(ctx, eventID, vols[0], "")
	require.ErrorIs(t, err, model.ErrBusy)
	assert.Equal(t, 0, f.activeCount(t, eventID))

	regs, err := f.query.ListByEvent(ctx, eventID, nil)
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestOtherEventsProceedWhileOneIsHeld(t *testing.T) {
	f := newFixture(t, withOptions(WithLockTimeout(time.Second)))
	ctx := context.Background()
	held := f.event(t, 5)
	free := f.event(t, 5)
	vols := f.volunteers(t, 1)

	unlock, err := f.admission.locks.Lock(ctx, held)
	require.NoError(t, err)
	defer unlock()

	_, err = f.admission.Register(ctx, free, vols[0], "")
	require.NoError(t, err)
}

func TestApprovalWorkflow(t *testing.T) {
	t.Run("pending not counted", func(t *testing.T) {
		f := newFixture(t, withOptions(WithAutoConfirm(false)))
		ctx := context.Background()
		eventID := f.event(t, 1)
		vols := f.volunteers(t, 2)

		a, err := f.admission.Register(ctx, eventID, vols[0], "")
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, a.Status)
		b, err := f.admission.Register(ctx, eventID, vols[1], "")
		require.NoError(t, err)
		assert.Equal(t, 0, f.activeCount(t, eventID))

		confirmed, err := f.admission.Confirm(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusConfirmed, confirmed.Status)
		assert.Equal(t, int64(2), confirmed.Version)

		_, err = f.admission.Confirm(ctx, b.ID)
		require.ErrorIs(t, err, model.ErrEventFull)
		assert.Equal(t, 1, f.activeCount(t, eventID))
	})

	t.Run("pending reserves a slot", func(t *testing.T) {
		f := newFixture(t, reservePending, withOptions(WithAutoConfirm(false)))
		ctx := context.Background()
		eventID := f.event(t, 1)
		vols := f.volunteers(t, 2)

		a, err := f.admission.Register(ctx, eventID, vols[0], "")
		require.NoError(t, err)
		assert.Equal(t, 1, f.activeCount(t, eventID))

		_, err = f.admission.Register(ctx, eventID, vols[1], "")
		require.ErrorIs(t, err, model.ErrEventFull)

		_, err = f.admission.Confirm(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, f.activeCount(t, eventID))
	})

	t.Run("confirm needs an open event", func(t *testing.T) {
		f := newFixture(t, withOptions(WithAutoConfirm(false)))
		ctx := context.Background()
		eventID := f.event(t, 1)
		vols := f.volunteers(t, 1)

		a, err := f.admission.Register(ctx, eventID, vols[0], "")
		require.NoError(t, err)
		_, err = f.events.SetEventStatus(ctx, eventID, model.EventCancelled)
		require.NoError(t, err)

		_, err = f.admission.Confirm(ctx, a.ID)
		require.ErrorIs(t, err, model.ErrEventNotOpen)

		cancelled, err := f.admission.Cancel(ctx, a.ID)
		require.NoError(t, err, "cancellation is always allowed")
		assert.Equal(t, model.StatusCancelled, cancelled.Status)
	})

	t.Run("confirm twice", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		eventID := f.event(t, 1)
		vols := f.volunteers(t, 1)

		a, err := f.admission.Register(ctx, eventID, vols[0], "")
		require.NoError(t, err)
		_, err = f.admission.Confirm(ctx, a.ID)
		require.ErrorIs(t, err, model.ErrInvalidTransition)
	})
}

func TestMarkAttendance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 2)
	vols := f.volunteers(t, 2)

	a, err := f.admission.Register(ctx, eventID, vols[0], "")
	require.NoError(t, err)
	b, err := f.admission.Register(ctx, eventID, vols[1], "")
	require.NoError(t, err)

	_, err = f.admission.MarkAttendance(ctx, a.ID, true)
	require.ErrorIs(t, err, model.ErrInvalidTransition, "event has not started")

	f.clock.Set(time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC))
	attended, err := f.admission.MarkAttendance(ctx, a.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAttended, attended.Status)

	noShow, err := f.admission.MarkAttendance(ctx, b.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoShow, noShow.Status)
	assert.Equal(t, 1, f.activeCount(t, eventID), "attended holds its slot, no-show releases it")

	_, err = f.admission.Cancel(ctx, attended.ID)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = f.admission.MarkAttendance(ctx, noShow.ID, true)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestDeleteRegistrationFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 1)
	vols := f.volunteers(t, 2)

	a, err := f.admission.Register(ctx, eventID, vols[0], "")
	require.NoError(t, err)

	require.NoError(t, f.admission.DeleteRegistration(ctx, a.ID))
	_, err = f.query.GetRegistration(ctx, a.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
	require.ErrorIs(t, f.admission.DeleteRegistration(ctx, a.ID), model.ErrNotFound)

	snap, err := f.ledger.Snapshot(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap)

	_, err = f.admission.Register(ctx, eventID, vols[1], "")
	require.NoError(t, err)
}

// auditStore checks the capacity invariant after every committed write.
type auditStore struct {
	*repository.MemoryStore
	capacity   int
	violations *atomic.Int32
}

func (s *auditStore) WriteRegistration(ctx context.Context, r model.Registration, expectedVersion int64) error {
	if err := s.MemoryStore.WriteRegistration(ctx, r, expectedVersion); err != nil {
		return err
	}
	n, err := s.CountActive(ctx, r.EventID, model.CountedStatuses(false))
	if err != nil {
		return err
	}
	if n > s.capacity {
		s.violations.Add(1)
	}
	return nil
}

// countingStore counts critical sections entered.
type countingStore struct {
	*repository.MemoryStore
	locks atomic.Int32
}

func (s *countingStore) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) error {
	s.locks.Add(1)
	return s.MemoryStore.WithEventLock(ctx, eventID, fn)
}

// conflictStore fails the first writes with a version conflict, as if another
// process had updated the record in between.
type conflictStore struct {
	*repository.MemoryStore
	remaining atomic.Int32
	writes    atomic.Int32
}

func (s *conflictStore) WriteRegistration(ctx context.Context, r model.Registration, expectedVersion int64) error {
	s.writes.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return fmt.Errorf("registration %s: %w", r.ID, model.ErrConflict)
	}
	return s.MemoryStore.WriteRegistration(ctx, r, expectedVersion)
}
