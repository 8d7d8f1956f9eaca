package osrswiki

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// latestResponse is the /latest payload. Data is nil when the field is
// absent, which is how a schema change is detected.
type latestResponse struct {
	Data map[string]APILatest `json:"data"`
}

// APILatest is one item of the /latest payload. High is the last instant
// buy price and Low the last instant sell price; both may be null.
type APILatest struct {
	High     *int64 `json:"high"`
	HighTime *int64 `json:"highTime"`
	Low      *int64 `json:"low"`
	LowTime  *int64 `json:"lowTime"`
}

// ToPriceRecord normalizes the quote. A price without its timestamp is a
// schema mismatch; a quote with neither side sampled uses fallback as its
// sample time.
func (a APILatest) ToPriceRecord(id domain.ItemID, fallback time.Time) (domain.PriceRecord, error) {
	rec := domain.PriceRecord{ItemID: id}

	if a.High != nil {
		if a.HighTime == nil {
			return domain.PriceRecord{}, fmt.Errorf("item %d: high without highTime: %w", id, domain.ErrSchemaMismatch)
		}
		t := time.Unix(*a.HighTime, 0).UTC()
		rec.Buy = domain.Int64(*a.High)
		rec.BuyTime = &t
	}
	if a.Low != nil {
		if a.LowTime == nil {
			return domain.PriceRecord{}, fmt.Errorf("item %d: low without lowTime: %w", id, domain.ErrSchemaMismatch)
		}
		t := time.Unix(*a.LowTime, 0).UTC()
		rec.Sell = domain.Int64(*a.Low)
		rec.SellTime = &t
	}

	switch {
	case rec.BuyTime != nil && rec.SellTime != nil:
		rec.SampledAt = *rec.BuyTime
		if rec.SellTime.After(rec.SampledAt) {
			rec.SampledAt = *rec.SellTime
		}
	case rec.BuyTime != nil:
		rec.SampledAt = *rec.BuyTime
	case rec.SellTime != nil:
		rec.SampledAt = *rec.SellTime
	default:
		rec.SampledAt = fallback
	}
	return rec, nil
}

// timeseriesResponse is the /timeseries payload.
type timeseriesResponse struct {
	Data []APITimeseriesPoint `json:"data"`
}

// APITimeseriesPoint is one bucket of the /timeseries payload.
type APITimeseriesPoint struct {
	Timestamp       *int64 `json:"timestamp"`
	AvgHighPrice    *int64 `json:"avgHighPrice"`
	AvgLowPrice     *int64 `json:"avgLowPrice"`
	HighPriceVolume int64  `json:"highPriceVolume"`
	LowPriceVolume  int64  `json:"lowPriceVolume"`
}

// ToHistoryPoint converts the bucket; a bucket without a timestamp is a
// schema mismatch.
func (p APITimeseriesPoint) ToHistoryPoint() (domain.HistoryPoint, error) {
	if p.Timestamp == nil {
		return domain.HistoryPoint{}, fmt.Errorf("timeseries point without timestamp: %w", domain.ErrSchemaMismatch)
	}
	return domain.HistoryPoint{
		Timestamp:  time.Unix(*p.Timestamp, 0).UTC(),
		AvgHigh:    p.AvgHighPrice,
		AvgLow:     p.AvgLowPrice,
		HighVolume: p.HighPriceVolume,
		LowVolume:  p.LowPriceVolume,
	}, nil
}
