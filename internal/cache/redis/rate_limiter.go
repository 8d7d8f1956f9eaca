package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// waitPollInterval is how long Wait sleeps between denied attempts.
const waitPollInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter using a sliding window backed by
// a Redis sorted set and an atomic Lua script, so every process pointed at
// the same Redis shares one request budget.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	key           string
	limit         int
	window        time.Duration
}

// NewRateLimiter allows limit requests per window under the named key. A
// non-positive limit or window disables limiting, matching the local
// limiter.
func NewRateLimiter(c *Client, name string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		key:           c.key("ratelimit", name),
		limit:         limit,
		window:        window,
	}
}

// Allow reports whether one more request fits in the current window, and
// counts it if so.
func (rl *RateLimiter) Allow(ctx context.Context) (bool, error) {
	if rl.unlimited() {
		return true, nil
	}
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rl.key},
		time.Now().UnixMicro(),
		rl.window.Microseconds(),
		rl.limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", rl.key, err)
	}

	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", rl.key, len(result))
	}

	return result[0] == 1, nil
}

// Wait blocks until a request is allowed, polling at a fixed interval. It
// returns an error if the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		allowed, err := rl.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", rl.key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (rl *RateLimiter) unlimited() bool {
	return rl.limit <= 0 || rl.window <= 0
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
