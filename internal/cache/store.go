// Package cache implements the two-tier price cache: an in-memory map that
// is authoritative for the life of the process, persisted as a versioned
// snapshot that is loaded at startup and flushed at shutdown.
//
// The Store also owns the in-flight table, which is the single source of
// truth for whether an upstream fetch for an item is already running.
package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// Store is safe for concurrent use. The map lock is held only for map
// operations, never across I/O, so work on one item does not wait on
// another item's fetch.
type Store struct {
	mu      sync.Mutex
	entries map[domain.ItemID]domain.CacheEntry
	flights map[domain.ItemID]*Flight
	// gen counts writes so Flush can tell whether it captured the latest.
	gen       uint64
	flushedAt uint64

	// diskMu serialises snapshot Load and Flush.
	diskMu    sync.Mutex
	snapshots domain.SnapshotStore
	// locker, when set, guards the persisted snapshot across processes.
	locker domain.LockManager

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSnapshotStore sets the persistence backend for Load and Flush.
func WithSnapshotStore(ss domain.SnapshotStore) Option {
	return func(s *Store) {
		s.snapshots = ss
	}
}

// WithLockManager makes Flush hold a cross-process lock while it merges
// into the persisted snapshot. Use it when several processes share one
// snapshot backend.
func WithLockManager(lm domain.LockManager) Option {
	return func(s *Store) {
		s.locker = lm
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates an empty Store. Without a snapshot backend the store is
// memory-only.
func New(opts ...Option) *Store {
	s := &Store{
		entries:   make(map[domain.ItemID]domain.CacheEntry),
		flights:   make(map[domain.ItemID]*Flight),
		snapshots: NoopSnapshot{},
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "cache"))
	return s
}

// Get returns the cached entry for id, fresh or not.
func (s *Store) Get(id domain.ItemID) (domain.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Put writes rec for id with the given ttl and returns the stored entry.
//
// Sample timestamps never go backwards for an item: when rec is older than
// the stored record the stored prices are kept and only the fetch time and
// ttl are refreshed (history is taken from rec if the stored record has
// none).
func (s *Store) Put(id domain.ItemID, rec domain.PriceRecord, ttl time.Duration) domain.CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(id, rec, ttl)
}

func (s *Store) putLocked(id domain.ItemID, rec domain.PriceRecord, ttl time.Duration) domain.CacheEntry {
	rec.ItemID = id
	if prev, ok := s.entries[id]; ok && prev.Record.SampledAt.After(rec.SampledAt) {
		kept := prev.Record
		if !kept.HasHistory() && rec.HasHistory() {
			kept.History = rec.History
		}
		rec = kept
	}
	e := domain.CacheEntry{Record: rec, FetchedAt: s.now(), TTL: ttl}
	s.entries[id] = e
	s.gen++
	return e
}

// IsFresh reports whether e is within its ttl right now.
func (s *Store) IsFresh(e domain.CacheEntry) bool {
	return e.Fresh(s.now())
}

// Len returns the number of cached items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
