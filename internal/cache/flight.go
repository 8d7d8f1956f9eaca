package cache

import (
	"context"
	"errors"
	"time"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// errNoFlight is returned by Settle for an id the caller does not own.
var errNoFlight = errors.New("cache: no flight for item")

// Flight is an in-progress upstream fetch for one item. Exactly one caller
// owns it and must Settle it; everyone else Waits.
type Flight struct {
	historical bool
	done       chan struct{}
	entry      domain.CacheEntry
	err        error
}

// Historical reports whether the flight fetches the historical series.
func (f *Flight) Historical() bool {
	return f.historical
}

// Wait blocks until the flight settles or ctx is done.
func (f *Flight) Wait(ctx context.Context) (domain.CacheEntry, error) {
	select {
	case <-f.done:
		return f.entry, f.err
	case <-ctx.Done():
		return domain.CacheEntry{}, ctx.Err()
	}
}

// Claim registers the caller as the fetcher for every id in ids that has no
// flight yet and returns those ids as owned. Ids already being fetched are
// returned in waiting; a waiting flight may be non-historical even though
// historical was requested, in which case the caller should wait for it and
// claim again.
func (s *Store) Claim(ids []domain.ItemID, historical bool) (owned []domain.ItemID, waiting map[domain.ItemID]*Flight) {
	owned, waiting, _ = s.ClaimUnless(ids, historical, nil)
	return owned, waiting
}

// ClaimUnless is Claim with a freshness re-check under the store lock: an id
// whose cached entry satisfies ready is returned in cached and neither
// claimed nor awaited. This closes the gap between a caller's cache lookup
// and its claim, during which another caller may have fetched the id.
// ready must not call back into the Store's locking methods.
func (s *Store) ClaimUnless(
	ids []domain.ItemID,
	historical bool,
	ready func(domain.ItemID, domain.CacheEntry) bool,
) (owned []domain.ItemID, waiting map[domain.ItemID]*Flight, cached map[domain.ItemID]domain.CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waiting = make(map[domain.ItemID]*Flight)
	cached = make(map[domain.ItemID]domain.CacheEntry)
	claimed := make(map[domain.ItemID]bool)
	for _, id := range ids {
		if claimed[id] {
			continue
		}
		if _, dup := waiting[id]; dup {
			continue
		}
		if _, dup := cached[id]; dup {
			continue
		}
		if e, ok := s.entries[id]; ok && ready != nil && ready(id, e) {
			cached[id] = e
			continue
		}
		if f, ok := s.flights[id]; ok {
			waiting[id] = f
			continue
		}
		s.flights[id] = &Flight{historical: historical, done: make(chan struct{})}
		claimed[id] = true
		owned = append(owned, id)
	}
	return owned, waiting, cached
}

// Settle completes the caller's flight for id. On success rec is written to
// the cache before waiters are released, so a waiter never sees a
// half-written entry; on failure nothing is written.
func (s *Store) Settle(id domain.ItemID, rec domain.PriceRecord, ttl time.Duration, fetchErr error) (domain.CacheEntry, error) {
	s.mu.Lock()
	f, ok := s.flights[id]
	if !ok {
		s.mu.Unlock()
		return domain.CacheEntry{}, errNoFlight
	}
	delete(s.flights, id)
	if fetchErr == nil {
		f.entry = s.putLocked(id, rec, ttl)
	} else {
		f.err = fetchErr
	}
	s.mu.Unlock()

	close(f.done)
	return f.entry, f.err
}

// InFlight returns the number of unsettled flights.
func (s *Store) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flights)
}
