package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func record(buy, sell *int64, sampled time.Time) domain.PriceRecord {
	return domain.PriceRecord{Buy: buy, Sell: sell, SampledAt: sampled}
}

func TestStore_PutGet(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock(clock.Now))

	if _, ok := s.Get(536); ok {
		t.Fatal("Get() on empty store returned an entry")
	}

	e := s.Put(536, record(domain.Int64(2345), nil, clock.Now()), 5*time.Minute)
	if e.Record.ItemID != 536 {
		t.Errorf("ItemID = %d, want 536 (Put stamps the id)", e.Record.ItemID)
	}
	if !e.FetchedAt.Equal(clock.Now()) {
		t.Errorf("FetchedAt = %v, want %v", e.FetchedAt, clock.Now())
	}

	got, ok := s.Get(536)
	if !ok {
		t.Fatal("Get() missing entry after Put")
	}
	if got.Record.Buy == nil || *got.Record.Buy != 2345 {
		t.Errorf("Buy = %v, want 2345", got.Record.Buy)
	}
	if got.Record.Sell != nil {
		t.Errorf("Sell = %v, want nil", *got.Record.Sell)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStore_Freshness(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	e := s.Put(1, record(domain.Int64(1), domain.Int64(1), clock.Now()), time.Minute)

	if !s.IsFresh(e) {
		t.Error("entry should be fresh right after Put")
	}
	clock.Advance(59 * time.Second)
	if !s.IsFresh(e) {
		t.Error("entry should be fresh before its ttl")
	}
	clock.Advance(time.Second)
	if s.IsFresh(e) {
		t.Error("entry should be stale at its ttl")
	}
}

func TestStore_PutKeepsNewerSample(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	newer := clock.Now()
	older := newer.Add(-time.Hour)

	s.Put(536, record(domain.Int64(2400), domain.Int64(2300), newer), time.Minute)
	clock.Advance(10 * time.Minute)

	hist := []domain.HistoryPoint{{Timestamp: older, AvgHigh: domain.Int64(2000)}}
	rec := record(domain.Int64(1), domain.Int64(1), older)
	rec.History = hist
	e := s.Put(536, rec, time.Hour)

	if *e.Record.Buy != 2400 || *e.Record.Sell != 2300 {
		t.Errorf("prices = %d/%d, want 2400/2300 kept", *e.Record.Buy, *e.Record.Sell)
	}
	if !e.Record.SampledAt.Equal(newer) {
		t.Errorf("SampledAt = %v, want %v", e.Record.SampledAt, newer)
	}
	if !e.FetchedAt.Equal(clock.Now()) {
		t.Errorf("FetchedAt = %v, want bumped to %v", e.FetchedAt, clock.Now())
	}
	if len(e.Record.History) != 1 {
		t.Errorf("History len = %d, want 1 adopted from the older record", len(e.Record.History))
	}
}

func TestStore_ClaimSettle(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock(clock.Now))

	owned, waiting := s.Claim([]domain.ItemID{1, 2, 2}, false)
	if len(owned) != 2 || len(waiting) != 0 {
		t.Fatalf("first Claim() owned=%v waiting=%d, want 2 owned", owned, len(waiting))
	}

	owned2, waiting2 := s.Claim([]domain.ItemID{2, 3}, false)
	if len(owned2) != 1 || owned2[0] != 3 {
		t.Fatalf("second Claim() owned=%v, want [3]", owned2)
	}
	f, ok := waiting2[2]
	if !ok {
		t.Fatal("second Claim() should wait on item 2")
	}
	if s.InFlight() != 3 {
		t.Errorf("InFlight() = %d, want 3", s.InFlight())
	}

	var wg sync.WaitGroup
	var got domain.CacheEntry
	var waitErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, waitErr = f.Wait(context.Background())
	}()

	if _, err := s.Settle(2, record(domain.Int64(7), nil, clock.Now()), time.Minute, nil); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	wg.Wait()
	if waitErr != nil || got.Record.Buy == nil || *got.Record.Buy != 7 {
		t.Errorf("Wait() = %+v, %v; want buy 7", got, waitErr)
	}
	if e, ok := s.Get(2); !ok || *e.Record.Buy != 7 {
		t.Error("settled entry not in cache")
	}

	fetchErr := errors.New("boom")
	if _, err := s.Settle(1, domain.PriceRecord{}, time.Minute, fetchErr); !errors.Is(err, fetchErr) {
		t.Errorf("Settle(failure) error = %v, want %v", err, fetchErr)
	}
	if _, ok := s.Get(1); ok {
		t.Error("failed flight must not write the cache")
	}

	if _, err := s.Settle(1, domain.PriceRecord{}, time.Minute, nil); !errors.Is(err, errNoFlight) {
		t.Errorf("double Settle() error = %v, want errNoFlight", err)
	}
	s.Settle(3, domain.PriceRecord{}, time.Minute, fetchErr)
	if s.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", s.InFlight())
	}
}

func TestStore_ClaimUnlessSkipsReadyEntries(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	s.Put(1, record(domain.Int64(5), nil, clock.Now()), time.Minute)
	s.Put(2, record(domain.Int64(6), nil, clock.Now()), time.Minute)
	s.Claim([]domain.ItemID{3}, false)

	ready := func(id domain.ItemID, e domain.CacheEntry) bool {
		return id == 1 && s.IsFresh(e)
	}
	owned, waiting, cached := s.ClaimUnless([]domain.ItemID{1, 2, 3, 1}, false, ready)

	if e, ok := cached[1]; !ok || *e.Record.Buy != 5 || len(cached) != 1 {
		t.Errorf("cached = %+v, want only item 1", cached)
	}
	if len(owned) != 1 || owned[0] != 2 {
		t.Errorf("owned = %v, want [2]", owned)
	}
	if _, ok := waiting[3]; !ok || len(waiting) != 1 {
		t.Errorf("waiting = %v, want item 3", waiting)
	}
	if s.InFlight() != 2 {
		t.Errorf("InFlight() = %d, want 2", s.InFlight())
	}
}

func TestFlight_WaitHonoursContext(t *testing.T) {
	s := New()
	s.Claim([]domain.ItemID{1}, true)
	_, waiting := s.Claim([]domain.ItemID{1}, false)
	if !waiting[1].Historical() {
		t.Error("flight should report historical")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := waiting[1].Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "prices.json")

	s := New(WithClock(clock.Now), WithSnapshotStore(NewFileSnapshot(path)))
	buyTime := clock.Now().Add(-time.Minute)
	rec := domain.PriceRecord{
		Buy:       domain.Int64(0),
		Sell:      nil,
		BuyTime:   &buyTime,
		SampledAt: buyTime,
		History:   []domain.HistoryPoint{},
	}
	s.Put(536, rec, 5*time.Minute)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	s2 := New(WithClock(clock.Now), WithSnapshotStore(NewFileSnapshot(path)))
	if n := s2.Load(context.Background()); n != 1 {
		t.Fatalf("Load() = %d, want 1", n)
	}
	e, ok := s2.Get(536)
	if !ok {
		t.Fatal("entry missing after Load")
	}
	if e.Record.Buy == nil || *e.Record.Buy != 0 {
		t.Errorf("Buy = %v, want 0 (zero is not absent)", e.Record.Buy)
	}
	if e.Record.Sell != nil {
		t.Errorf("Sell = %v, want nil", *e.Record.Sell)
	}
	if !e.Record.SampledAt.Equal(buyTime) || !e.FetchedAt.Equal(clock.Now()) {
		t.Errorf("timestamps not preserved: %+v", e)
	}
	if e.TTL != 5*time.Minute {
		t.Errorf("TTL = %v, want 5m", e.TTL)
	}
	if !e.Record.HasHistory() {
		t.Error("empty history should survive as historical")
	}
}

func TestSnapshot_ColdOnBadData(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"corrupt", `{"version":1,"entries":{`},
		{"version mismatch", `{"version":99,"saved_at":"2026-10-18T12:00:00Z","entries":{}}`},
		{"id mismatch", `{"version":1,"entries":{"536":{"record":{"item_id":4151},"fetched_at":"2026-10-18T12:00:00Z","ttl":1}}}`},
		{"not json", "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); !errors.Is(err, domain.ErrCacheCorrupt) {
				t.Errorf("Decode() error = %v, want ErrCacheCorrupt", err)
			}

			path := filepath.Join(t.TempDir(), "prices.json")
			if err := os.WriteFile(path, []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			s := New(WithSnapshotStore(NewFileSnapshot(path)))
			if n := s.Load(context.Background()); n != 0 {
				t.Errorf("Load() = %d, want 0", n)
			}
			if s.Len() != 0 {
				t.Errorf("Len() = %d, want cold cache", s.Len())
			}
		})
	}
}

func TestSnapshot_MissingFileIsCold(t *testing.T) {
	s := New(WithSnapshotStore(NewFileSnapshot(filepath.Join(t.TempDir(), "none.json"))))
	if n := s.Load(context.Background()); n != 0 {
		t.Errorf("Load() = %d, want 0", n)
	}
}

// countingSnapshot counts Save calls.
type countingSnapshot struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

func (c *countingSnapshot) Load(context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		return nil, domain.ErrNotFound
	}
	return c.data, nil
}

func (c *countingSnapshot) Save(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.saves++
	return nil
}

func TestFlush_OnlyWhenDirty(t *testing.T) {
	snap := &countingSnapshot{}
	s := New(WithSnapshotStore(snap))
	ctx := context.Background()

	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if snap.saves != 0 {
		t.Errorf("saves = %d after clean flush, want 0", snap.saves)
	}

	s.Put(1, domain.PriceRecord{SampledAt: time.Now()}, time.Minute)
	s.Flush(ctx)
	s.Flush(ctx)
	if snap.saves != 1 {
		t.Errorf("saves = %d, want 1", snap.saves)
	}

	s.Put(2, domain.PriceRecord{SampledAt: time.Now()}, time.Minute)
	s.Flush(ctx)
	if snap.saves != 2 {
		t.Errorf("saves = %d, want 2", snap.saves)
	}

	// Loading restores entries without marking the store dirty.
	s2 := New(WithSnapshotStore(snap))
	if n := s2.Load(ctx); n != 2 {
		t.Fatalf("Load() = %d, want 2", n)
	}
	s2.Flush(ctx)
	if snap.saves != 2 {
		t.Errorf("saves = %d after flushing a clean loaded store, want 2", snap.saves)
	}
}

func TestLoad_MemoryWins(t *testing.T) {
	snap := &countingSnapshot{}
	ctx := context.Background()

	old := New(WithSnapshotStore(snap))
	old.Put(1, domain.PriceRecord{Buy: domain.Int64(1), SampledAt: time.Now()}, time.Minute)
	old.Flush(ctx)

	s := New(WithSnapshotStore(snap))
	s.Put(1, domain.PriceRecord{Buy: domain.Int64(2), SampledAt: time.Now()}, time.Minute)
	if n := s.Load(ctx); n != 0 {
		t.Errorf("Load() = %d, want 0", n)
	}
	if e, _ := s.Get(1); *e.Record.Buy != 2 {
		t.Errorf("Buy = %d, want in-memory value 2", *e.Record.Buy)
	}
}

func TestFlush_MergesNewerPersistedEntries(t *testing.T) {
	snap := &countingSnapshot{}
	ctx := context.Background()
	t0 := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	// Another process flushed item 1 (newer than ours) and item 2.
	other := New(WithSnapshotStore(snap))
	other.Put(1, domain.PriceRecord{Buy: domain.Int64(20), SampledAt: t0.Add(time.Minute)}, time.Minute)
	other.Put(2, domain.PriceRecord{Buy: domain.Int64(30), SampledAt: t0}, time.Minute)
	if err := other.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	s := New(WithSnapshotStore(snap))
	s.Put(1, domain.PriceRecord{Buy: domain.Int64(10), SampledAt: t0}, time.Minute)
	s.Put(3, domain.PriceRecord{Buy: domain.Int64(40), SampledAt: t0}, time.Minute)
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	merged, err := Decode(snap.data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := map[domain.ItemID]int64{1: 20, 2: 30, 3: 40}
	if len(merged) != len(want) {
		t.Fatalf("merged %d entries, want %d", len(merged), len(want))
	}
	for id, buy := range want {
		if got := *merged[id].Record.Buy; got != buy {
			t.Errorf("item %d buy = %d, want %d", id, got, buy)
		}
	}
}

// fakeLocks is an in-process LockManager.
type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	f.acquired++
	return func() {
		f.mu.Lock()
		delete(f.held, key)
		f.mu.Unlock()
	}, nil
}

func TestFlush_HoldsLock(t *testing.T) {
	locks := &fakeLocks{held: map[string]bool{}}
	snap := &countingSnapshot{}
	s := New(WithSnapshotStore(snap), WithLockManager(locks))
	s.Put(1, domain.PriceRecord{SampledAt: time.Now()}, time.Minute)

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if locks.acquired != 1 || len(locks.held) != 0 {
		t.Errorf("acquired=%d held=%v, want 1 acquire and release", locks.acquired, locks.held)
	}

	// While someone else holds the lock, Flush waits until ctx expires.
	locks.held[snapshotLockKey] = true
	s.Put(2, domain.PriceRecord{SampledAt: time.Now()}, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	if err := s.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush() error = %v, want DeadlineExceeded", err)
	}
	if snap.saves != 1 {
		t.Errorf("saves = %d, want 1", snap.saves)
	}
}
