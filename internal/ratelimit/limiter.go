// Package ratelimit provides the process-local token bucket that gates
// upstream calls when no shared limiter is configured.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// Limiter is a token bucket shared by every outbound call in the process.
type Limiter struct {
	lim *rate.Limiter
}

// New allows requests calls per period with the given burst. A non-positive
// requests or period disables limiting.
func New(requests int, per time.Duration, burst int) *Limiter {
	if requests <= 0 || per <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{lim: rate.NewLimiter(rate.Every(per/time.Duration(requests)), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.lim.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: wait: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*Limiter)(nil)
