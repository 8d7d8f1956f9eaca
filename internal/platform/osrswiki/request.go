package osrswiki

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// APIError is a non-2xx response from the wiki API.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("osrswiki api error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap classifies the status into the domain error taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case e.StatusCode >= 500:
		return domain.ErrNetworkTransient
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	default:
		return domain.ErrNetworkFatal
	}
}

// IsRetryable reports whether the failure may succeed on another attempt.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return errors.Is(err, domain.ErrNetworkTransient)
}

// doRequest performs one rate-limited GET bounded by the per-attempt
// timeout. Transport failures, including the timeout, are reported as
// domain.ErrNetworkTransient.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w: %w", domain.ErrNetworkFatal, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w: %w", domain.ErrNetworkTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", domain.ErrNetworkTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}

	return body, nil
}

// get performs a GET with jittered exponential backoff on transient
// failures. Cancellation of ctx stops retrying immediately.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := jitter(backoff)
			c.logger.DebugContext(ctx, "retrying request",
				"attempt", attempt,
				"backoff", wait,
				"path", path,
				"error", lastErr,
			)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, path, query)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %d attempts: %w", domain.ErrNetworkTransient, c.maxRetries+1, lastErr)
}

// jitter returns a duration in [d/2, 3d/2).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int64N(int64(d)))
}

type unlimited struct{}

func (unlimited) Wait(context.Context) error { return nil }
