// Package ledger answers "does this event have a free slot" for the admission
// controller.
//
// The authoritative count is always derived from committed registration rows
// and must be read inside the event's critical section. A TTL cache of those
// counts serves read-only callers; it is written only after a commit, so no
// cached value ever runs ahead of the registration it describes.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

// Counter counts an event's registrations in the given statuses.
// The repository stores satisfy it.
type Counter interface {
	CountActive(ctx context.Context, eventID string, statuses []model.RegistrationStatus) (int, error)
}

// Ledger derives per-event capacity usage.
type Ledger struct {
	counter        Counter
	reservePending bool
	counted        []model.RegistrationStatus

	cache *ttlcache.Cache[string, int]
	fills singleflight.Group
	// mu orders cache writes. gen increases on every Commit or Invalidate;
	// a fill that started before a write is discarded rather than published.
	mu  sync.Mutex
	gen uint64
}

// New builds a Ledger. A zero ttl disables the read cache.
func New(counter Counter, reservePending bool, ttl time.Duration) *Ledger {
	l := &Ledger{
		counter:        counter,
		reservePending: reservePending,
		counted:        model.CountedStatuses(reservePending),
	}
	if ttl > 0 {
		l.cache = ttlcache.New(
			ttlcache.WithTTL[string, int](ttl),
			ttlcache.WithDisableTouchOnHit[string, int](),
		)
		go l.cache.Start()
	}
	return l
}

// ReservePending reports whether Pending registrations consume capacity.
func (l *Ledger) ReservePending() bool {
	return l.reservePending
}

// CountedStatuses returns the statuses that consume capacity under this policy.
func (l *Ledger) CountedStatuses() []model.RegistrationStatus {
	return l.counted
}

// CurrentActiveCount re-reads the committed count for eventID. Call it with the
// transaction context of the event's critical section.
func (l *Ledger) CurrentActiveCount(ctx context.Context, eventID string) (int, error) {
	n, err := l.counter.CountActive(ctx, eventID, l.counted)
	if err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}
	return n, nil
}

// HasFreeSlot reports whether event can admit one more capacity-consuming
// registration, along with the count it based that answer on.
func (l *Ledger) HasFreeSlot(ctx context.Context, event *model.Event) (bool, int, error) {
	n, err := l.CurrentActiveCount(ctx, event.ID)
	if err != nil {
		return false, 0, err
	}
	return n < event.Capacity, n, nil
}

// Delta is the change in counted registrations when a record moves from one
// status to another.
func (l *Ledger) Delta(from, to model.RegistrationStatus) int {
	d := 0
	if from.ConsumesCapacity(l.reservePending) {
		d--
	}
	if to.ConsumesCapacity(l.reservePending) {
		d++
	}
	return d
}

// Commit publishes count as the event's committed value. Call it after the
// store transaction commits and before leaving the critical section.
func (l *Ledger) Commit(eventID string, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	if l.cache != nil {
		l.cache.Set(eventID, count, ttlcache.DefaultTTL)
	}
}

// Invalidate drops any cached value for eventID.
func (l *Ledger) Invalidate(eventID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	if l.cache != nil {
		l.cache.Delete(eventID)
	}
}

// Snapshot returns a recently committed count for eventID without taking the
// critical section. Concurrent misses for the same event share one store read.
func (l *Ledger) Snapshot(ctx context.Context, eventID string) (int, error) {
	if l.cache == nil {
		return l.CurrentActiveCount(ctx, eventID)
	}
	if item := l.cache.Get(eventID); item != nil {
		return item.Value(), nil
	}

	v, err, _ := l.fills.Do(eventID, func() (any, error) {
		l.mu.Lock()
		start := l.gen
		l.mu.Unlock()

		n, err := l.CurrentActiveCount(ctx, eventID)
		if err != nil {
			return 0, err
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.gen == start {
			l.cache.Set(eventID, n, ttlcache.DefaultTTL)
		}
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Cached returns the cached count for eventID, if any.
func (l *Ledger) Cached(eventID string) (int, bool) {
	if l.cache == nil {
		return 0, false
	}
	if item := l.cache.Get(eventID); item != nil {
		return item.Value(), true
	}
	return 0, false
}

// Close stops the cache janitor.
func (l *Ledger) Close() {
	if l.cache != nil {
		l.cache.Stop()
	}
}

