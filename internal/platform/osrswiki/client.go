// Package osrswiki is the REST client for the RuneScape Wiki real-time
// Grand Exchange prices API (https://prices.runescape.wiki/api/v1/osrs).
package osrswiki

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://prices.runescape.wiki/api/v1/osrs"

// Client fetches mapping and price data. Every HTTP attempt first waits on
// the shared rate limiter.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    domain.RateLimiter
	logger     *slog.Logger
	now        func() time.Time

	timeout       time.Duration
	maxRetries    int
	retryBackoff  time.Duration
	bulkThreshold int
	concurrency   int
	timestep      string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client for baseURL. The wiki asks every consumer to
// send a descriptive User-Agent.
func NewClient(baseURL, userAgent string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       baseURL,
		userAgent:     userAgent,
		httpClient:    &http.Client{},
		limiter:       unlimited{},
		logger:        slog.Default(),
		now:           time.Now,
		timeout:       10 * time.Second,
		maxRetries:    3,
		retryBackoff:  500 * time.Millisecond,
		bulkThreshold: 20,
		concurrency:   4,
		timestep:      "24h",
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "osrswiki"))

	return c
}

// WithTimeout sets the per-attempt timeout. A timed out attempt is retried.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetries sets how many times a transient failure is retried and the
// initial backoff, which doubles on every retry.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithRateLimiter sets the limiter every attempt waits on.
func WithRateLimiter(l domain.RateLimiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithBulkThreshold sets how many ids make a single all-items /latest call
// cheaper than one call per id. Zero disables bulk calls.
func WithBulkThreshold(n int) ClientOption {
	return func(c *Client) {
		c.bulkThreshold = n
	}
}

// WithConcurrency bounds the number of per-id requests in flight.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithTimestep sets the /timeseries bucket size (5m, 1h, 6h or 24h).
func WithTimestep(step string) ClientOption {
	return func(c *Client) {
		c.timestep = step
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}
