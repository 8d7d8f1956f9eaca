package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alanyoungcy/osrsprice/internal/domain"
	"github.com/alanyoungcy/osrsprice/internal/fsutil"
)

// SnapshotVersion tags the persisted format. Snapshots with any other
// version are ignored.
const SnapshotVersion = 1

const (
	snapshotLockKey  = "snapshot"
	snapshotLockTTL  = 30 * time.Second
	lockPollInterval = 50 * time.Millisecond
)

type snapshot struct {
	Version int                                 `json:"version"`
	SavedAt time.Time                           `json:"saved_at"`
	Entries map[domain.ItemID]domain.CacheEntry `json:"entries"`
}

// Encode serialises entries into the snapshot format.
func Encode(entries map[domain.ItemID]domain.CacheEntry, savedAt time.Time) ([]byte, error) {
	return json.Marshal(snapshot{Version: SnapshotVersion, SavedAt: savedAt, Entries: entries})
}

// Decode parses a snapshot. It returns domain.ErrCacheCorrupt for anything
// that is not a well formed snapshot of the current version.
func Decode(data []byte) (map[domain.ItemID]domain.CacheEntry, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("cache: decode snapshot: %w: %w", domain.ErrCacheCorrupt, err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("cache: snapshot version %d, want %d: %w", snap.Version, SnapshotVersion, domain.ErrCacheCorrupt)
	}
	for id, e := range snap.Entries {
		if e.Record.ItemID != id {
			return nil, fmt.Errorf("cache: snapshot entry %d holds item %d: %w", id, e.Record.ItemID, domain.ErrCacheCorrupt)
		}
	}
	if snap.Entries == nil {
		snap.Entries = map[domain.ItemID]domain.CacheEntry{}
	}
	return snap.Entries, nil
}

// Load reads the persisted snapshot into memory and returns how many entries
// it restored. A missing, unreadable, corrupt or mismatched snapshot leaves
// the cache cold; it is logged, never returned as an error. Entries already
// in memory win over snapshot entries.
func (s *Store) Load(ctx context.Context) int {
	s.diskMu.Lock()
	defer s.diskMu.Unlock()

	data, err := s.snapshots.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.DebugContext(ctx, "cache: no snapshot, starting cold")
		} else {
			s.logger.WarnContext(ctx, "cache: snapshot unreadable, starting cold",
				slog.String("error", err.Error()),
			)
		}
		return 0
	}

	entries, err := Decode(data)
	if err != nil {
		s.logger.WarnContext(ctx, "cache: discarding snapshot, starting cold",
			slog.String("error", err.Error()),
		)
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range entries {
		if _, ok := s.entries[id]; ok {
			continue
		}
		s.entries[id] = e
		n++
	}
	s.logger.DebugContext(ctx, "cache: snapshot loaded", slog.Int("entries", n))
	return n
}

// Flush persists the in-memory tier if anything changed since the last
// flush. Entries in the persisted snapshot that are newer than ours are
// merged in first, so processes sharing a backend keep each other's prices.
func (s *Store) Flush(ctx context.Context) error {
	s.diskMu.Lock()
	defer s.diskMu.Unlock()

	s.mu.Lock()
	if s.gen == s.flushedAt {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	entries := make(map[domain.ItemID]domain.CacheEntry, len(s.entries))
	for id, e := range s.entries {
		entries[id] = e
	}
	s.mu.Unlock()

	if s.locker != nil {
		unlock, err := s.lockSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("cache: lock snapshot: %w", err)
		}
		defer unlock()
	}
	s.mergePersisted(ctx, entries)

	data, err := Encode(entries, s.now())
	if err != nil {
		return fmt.Errorf("cache: encode snapshot: %w", err)
	}
	if err := s.snapshots.Save(ctx, data); err != nil {
		return fmt.Errorf("cache: save snapshot: %w", err)
	}

	s.mu.Lock()
	if gen > s.flushedAt {
		s.flushedAt = gen
	}
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "cache: snapshot flushed", slog.Int("entries", len(entries)))
	return nil
}

// lockSnapshot polls until the snapshot lock is free or ctx is done.
func (s *Store) lockSnapshot(ctx context.Context) (func(), error) {
	for {
		unlock, err := s.locker.Acquire(ctx, snapshotLockKey, snapshotLockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// mergePersisted folds persisted entries that are newer than the ones in
// entries into it. An unreadable snapshot is simply overwritten.
func (s *Store) mergePersisted(ctx context.Context, entries map[domain.ItemID]domain.CacheEntry) {
	data, err := s.snapshots.Load(ctx)
	if err != nil {
		return
	}
	persisted, err := Decode(data)
	if err != nil {
		return
	}
	for id, theirs := range persisted {
		ours, ok := entries[id]
		if !ok {
			entries[id] = theirs
			continue
		}
		if newerEntry(theirs, ours) {
			if !theirs.Record.HasHistory() && ours.Record.HasHistory() {
				theirs.Record.History = ours.Record.History
			}
			entries[id] = theirs
		}
	}
}

func newerEntry(a, b domain.CacheEntry) bool {
	if !a.Record.SampledAt.Equal(b.Record.SampledAt) {
		return a.Record.SampledAt.After(b.Record.SampledAt)
	}
	return a.FetchedAt.After(b.FetchedAt)
}

// FileSnapshot stores the snapshot in a local file.
type FileSnapshot struct {
	path string
}

// NewFileSnapshot returns a FileSnapshot writing to path.
func NewFileSnapshot(path string) *FileSnapshot {
	return &FileSnapshot{path: path}
}

// Load reads the snapshot file.
func (f *FileSnapshot) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cache: snapshot %s: %w", f.path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("cache: read snapshot %s: %w", f.path, err)
	}
	return data, nil
}

// Save atomically replaces the snapshot file.
func (f *FileSnapshot) Save(_ context.Context, data []byte) error {
	if err := fsutil.WriteFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("cache: write snapshot %s: %w", f.path, err)
	}
	return nil
}

// NoopSnapshot disables persistence.
type NoopSnapshot struct{}

// Load always reports that no snapshot exists.
func (NoopSnapshot) Load(context.Context) ([]byte, error) {
	return nil, domain.ErrNotFound
}

// Save discards data.
func (NoopSnapshot) Save(context.Context, []byte) error {
	return nil
}

// Compile-time interface checks.
var (
	_ domain.SnapshotStore = (*FileSnapshot)(nil)
	_ domain.SnapshotStore = NoopSnapshot{}
)
