package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// PriceLogStore implements domain.PriceRecorder by appending to the
// price_log table. A sample already logged for an item is not duplicated.
type PriceLogStore struct {
	pool  *pgxpool.Pool
	runID uuid.UUID
}

// NewPriceLogStore creates a PriceLogStore tagging rows with runID.
func NewPriceLogStore(pool *pgxpool.Pool, runID uuid.UUID) *PriceLogStore {
	return &PriceLogStore{pool: pool, runID: runID}
}

// Record inserts every record in one batch.
func (s *PriceLogStore) Record(ctx context.Context, records []domain.PriceRecord, fetchedAt time.Time) error {
	const query = `
		INSERT INTO price_log (
			run_id, item_id, buy, sell, buy_time, sell_time, sampled_at, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (item_id, sampled_at) DO NOTHING`

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(query,
			s.runID, int(r.ItemID), r.Buy, r.Sell,
			r.BuyTime, r.SellTime, r.SampledAt, fetchedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert price log: %w", err)
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.PriceRecorder = (*PriceLogStore)(nil)
