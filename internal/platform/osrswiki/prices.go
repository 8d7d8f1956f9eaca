package osrswiki

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// FetchPrices returns the latest quote for every id, plus the historical
// series when historical is set. Failures are reported per id: a request
// that fails affects only the ids it was for, and an id the API has no
// quote for fails with domain.ErrNotFound.
//
// At or above the bulk threshold a single all-items /latest call is made;
// below it, one /latest?id= call per id.
func (c *Client) FetchPrices(ctx context.Context, ids []domain.ItemID, historical bool) map[domain.ItemID]domain.PriceResult {
	ids = dedupe(ids)
	out := make(map[domain.ItemID]domain.PriceResult, len(ids))
	if len(ids) == 0 {
		return out
	}

	var mu sync.Mutex
	set := func(id domain.ItemID, res domain.PriceResult) {
		mu.Lock()
		out[id] = res
		mu.Unlock()
	}

	if c.bulkThreshold > 0 && len(ids) >= c.bulkThreshold {
		c.fetchLatest(ctx, nil, ids, set)
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency)
		for _, id := range ids {
			g.Go(func() error {
				c.fetchLatest(gctx, &id, []domain.ItemID{id}, set)
				return nil
			})
		}
		_ = g.Wait()
	}

	if historical {
		c.attachHistory(ctx, out)
	}

	c.logger.DebugContext(ctx, "prices fetched",
		slog.Int("ids", len(ids)),
		slog.Bool("historical", historical),
	)
	return out
}

// fetchLatest issues one /latest call (for single, or for everything when
// single is nil) and reports a result for each of want.
func (c *Client) fetchLatest(ctx context.Context, single *domain.ItemID, want []domain.ItemID, set func(domain.ItemID, domain.PriceResult)) {
	fail := func(err error) {
		for _, id := range want {
			set(id, domain.PriceResult{Err: err})
		}
	}

	var query url.Values
	if single != nil {
		query = url.Values{}
		query.Set("id", strconv.Itoa(int(*single)))
	}

	body, err := c.get(ctx, "/latest", query)
	if err != nil {
		fail(fmt.Errorf("osrswiki: latest: %w", err))
		return
	}

	var resp latestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		fail(fmt.Errorf("osrswiki: decode latest: %w: %w", domain.ErrSchemaMismatch, err))
		return
	}
	if resp.Data == nil {
		fail(fmt.Errorf("osrswiki: latest: missing data field: %w", domain.ErrSchemaMismatch))
		return
	}

	fetchedAt := c.now()
	for _, id := range want {
		quote, ok := resp.Data[strconv.Itoa(int(id))]
		if !ok {
			set(id, domain.PriceResult{Err: fmt.Errorf("osrswiki: no quote for item %d: %w", id, domain.ErrNotFound)})
			continue
		}
		rec, err := quote.ToPriceRecord(id, fetchedAt)
		if err != nil {
			set(id, domain.PriceResult{Err: fmt.Errorf("osrswiki: %w", err)})
			continue
		}
		set(id, domain.PriceResult{Record: rec})
	}
}

// attachHistory fetches the series for every successful result. An id whose
// series cannot be fetched fails as a whole, so no half-populated record
// ever reaches the cache.
func (c *Client) attachHistory(ctx context.Context, results map[domain.ItemID]domain.PriceResult) {
	var ok []domain.ItemID
	for id, res := range results {
		if res.Err == nil {
			ok = append(ok, id)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, id := range ok {
		g.Go(func() error {
			series, err := c.FetchHistory(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			res := results[id]
			if err != nil {
				results[id] = domain.PriceResult{Err: err}
				return nil
			}
			res.Record.History = series
			results[id] = res
			return nil
		})
	}
	_ = g.Wait()
}

// FetchHistory returns the /timeseries series for one item at the
// configured timestep, oldest first.
func (c *Client) FetchHistory(ctx context.Context, id domain.ItemID) ([]domain.HistoryPoint, error) {
	query := url.Values{}
	query.Set("id", strconv.Itoa(int(id)))
	query.Set("timestep", c.timestep)

	body, err := c.get(ctx, "/timeseries", query)
	if err != nil {
		return nil, fmt.Errorf("osrswiki: timeseries %d: %w", id, err)
	}

	var resp timeseriesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("osrswiki: decode timeseries %d: %w: %w", id, domain.ErrSchemaMismatch, err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("osrswiki: timeseries %d: missing data field: %w", id, domain.ErrSchemaMismatch)
	}

	series := make([]domain.HistoryPoint, 0, len(resp.Data))
	for _, p := range resp.Data {
		hp, err := p.ToHistoryPoint()
		if err != nil {
			return nil, fmt.Errorf("osrswiki: timeseries %d: %w", id, err)
		}
		series = append(series, hp)
	}
	return series, nil
}

// FetchMapping downloads the raw item mapping document.
func (c *Client) FetchMapping(ctx context.Context) ([]byte, error) {
	body, err := c.get(ctx, "/mapping", nil)
	if err != nil {
		return nil, fmt.Errorf("osrswiki: mapping: %w", err)
	}
	return body, nil
}

func dedupe(ids []domain.ItemID) []domain.ItemID {
	seen := make(map[domain.ItemID]struct{}, len(ids))
	out := make([]domain.ItemID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Compile-time interface check.
var _ domain.PriceSource = (*Client)(nil)
