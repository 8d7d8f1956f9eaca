package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// releaseTimeout bounds a release, which runs on its own context because
// locks are typically released while the process shuts down.
const releaseTimeout = 5 * time.Second

// releaseScript deletes the lock only while it still carries the holder's
// token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager hands out expiring SET NX locks. Store.Flush takes one around
// its read-merge-write of a shared snapshot.
type LockManager struct {
	c *Client
}

// NewLockManager creates a LockManager on c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// heldLock is one successful Acquire.
type heldLock struct {
	rdb   *redis.Client
	key   string
	token string
	once  sync.Once
}

func (h *heldLock) release() {
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = releaseScript.Run(ctx, h.rdb, []string{h.key}, h.token).Err()
	})
}

// Acquire takes the named lock for at most ttl and returns its release
// func, which may be called any number of times. A lock held elsewhere is
// reported as domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	h := &heldLock{
		rdb:   lm.c.Underlying(),
		key:   lm.c.key("lock", name),
		token: uuid.NewString(),
	}
	ok, err := h.rdb.SetNX(ctx, h.key, h.token, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("redis: lock %s: %w", name, err)
	case !ok:
		return nil, fmt.Errorf("redis: lock %s: %w", name, domain.ErrLockHeld)
	}
	return h.release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
