package domain

import "time"

// PriceRecord is a normalized Grand Exchange quote for one item. Buy is the
// instant-buy ("high") price and Sell the instant-sell ("low") price; a nil
// side means the market had no data for it, which is not the same as 0.
type PriceRecord struct {
	ItemID    ItemID         `json:"item_id"`
	Buy       *int64         `json:"buy"`
	Sell      *int64         `json:"sell"`
	BuyTime   *time.Time     `json:"buy_time,omitempty"`
	SellTime  *time.Time     `json:"sell_time,omitempty"`
	SampledAt time.Time      `json:"sampled_at"`
	History   []HistoryPoint `json:"history"`
}

// HasHistory reports whether the record carries a historical series.
func (r PriceRecord) HasHistory() bool {
	return r.History != nil
}

// HistoryPoint is one bucket of the historical series.
type HistoryPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	AvgHigh    *int64    `json:"avg_high"`
	AvgLow     *int64    `json:"avg_low"`
	HighVolume int64     `json:"high_volume"`
	LowVolume  int64     `json:"low_volume"`
}

// CacheEntry wraps a record with the freshness metadata of the cache.
type CacheEntry struct {
	Record    PriceRecord   `json:"record"`
	FetchedAt time.Time     `json:"fetched_at"`
	TTL       time.Duration `json:"ttl"`
}

// Fresh reports whether the entry is still within its time-to-live at now.
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

// PriceResult is the per-identifier outcome of a batched upstream fetch.
type PriceResult struct {
	Record PriceRecord
	Err    error
}

// Int64 returns a pointer to v. Handy for building optional prices.
func Int64(v int64) *int64 {
	return &v
}
