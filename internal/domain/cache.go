package domain

import (
	"context"
	"time"
)

// PriceSource fetches prices from the upstream API. Failures are reported per
// identifier so one bad id never invalidates its siblings.
type PriceSource interface {
	FetchPrices(ctx context.Context, ids []ItemID, historical bool) map[ItemID]PriceResult
}

// RateLimiter gates outbound calls. Wait blocks until a call is permitted.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// SnapshotStore persists the opaque cache snapshot between runs. Load returns
// ErrNotFound when no snapshot exists yet.
type SnapshotStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// PriceRecorder receives every freshly fetched record, e.g. to keep a log.
type PriceRecorder interface {
	Record(ctx context.Context, records []PriceRecord, fetchedAt time.Time) error
}

// LockManager serialises work on a shared resource across processes. Acquire
// returns ErrLockHeld when another holder has the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
