package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore with a single Redis string
// key holding the encoded snapshot.
type SnapshotStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewSnapshotStore creates a SnapshotStore under the client's prefix. A
// positive ttl lets Redis expire snapshots nobody has refreshed.
func NewSnapshotStore(c *Client, name string, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{rdb: c.Underlying(), key: c.key("snapshot", name), ttl: ttl}
}

// Load returns the stored snapshot or domain.ErrNotFound.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis: snapshot %s: %w", s.key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("redis: get snapshot %s: %w", s.key, err)
	}
	return data, nil
}

// Save overwrites the stored snapshot.
func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	if err := s.rdb.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", s.key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
