package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/osrsprice/internal/cache"
	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// maxClaimRounds bounds how often a historical request re-claims after
// waiting on someone else's non-historical fetch.
var maxClaimRounds = 3

// Catalog is the part of the item catalog the resolver needs.
type Catalog interface {
	Resolve(query string) (domain.ItemID, error)
	Lookup(id domain.ItemID) (domain.Item, error)
}

// ResolverConfig holds the resolver's tunables.
type ResolverConfig struct {
	// PriceTTL is the freshness window of a plain quote.
	PriceTTL time.Duration
	// HistoryTTL, when positive, replaces PriceTTL for entries fetched
	// with their historical series. Plain queries still hold such an entry
	// to PriceTTL.
	HistoryTTL time.Duration
	// Workers bounds concurrent waits on other callers' fetches.
	Workers int
}

// Resolver turns queries into price results: name resolution through the
// catalog, freshness checks against the cache, and deduplicated, batched
// upstream fetches with stale fallback when a fetch fails.
type Resolver struct {
	catalog  Catalog
	cache    *cache.Store
	source   domain.PriceSource
	recorder domain.PriceRecorder
	cfg      ResolverConfig
	logger   *slog.Logger
}

// NewResolver creates a Resolver. recorder may be nil.
func NewResolver(
	catalog Catalog,
	store *cache.Store,
	source domain.PriceSource,
	recorder domain.PriceRecorder,
	cfg ResolverConfig,
	logger *slog.Logger,
) *Resolver {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Resolver{
		catalog:  catalog,
		cache:    store,
		source:   source,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "resolver")),
	}
}

// Query resolves a single query.
func (r *Resolver) Query(ctx context.Context, q domain.Query) domain.Result {
	return r.QueryBatch(ctx, []domain.Query{q})[0]
}

// QueryBatch resolves every query and returns one result per query in input
// order. Queries fail independently. Identifiers that need fetching are
// fetched together, and an identifier already being fetched by another
// caller is awaited rather than fetched again.
func (r *Resolver) QueryBatch(ctx context.Context, qs []domain.Query) []domain.Result {
	results := make([]domain.Result, len(qs))
	ids := make([]domain.ItemID, len(qs))
	var pending []int
	// force marks ids with a ForceRefresh query; seen holds the FetchedAt each
	// id had when it was checked, zero if absent.
	force := make(map[domain.ItemID]bool)
	seen := make(map[domain.ItemID]time.Time)

	for i, q := range qs {
		results[i].Query = q
		item, err := r.resolve(q)
		if err != nil {
			results[i].Outcome = domain.OutcomeFailed
			results[i].Err = err
			var amb *domain.AmbiguousError
			if errors.As(err, &amb) {
				results[i].Candidates = amb.Candidates
			}
			continue
		}
		results[i].Item = &item
		ids[i] = item.ID

		e, ok := r.cache.Get(item.ID)
		if ok && r.satisfies(q, e) {
			results[i].Entry = &e
			results[i].Outcome = domain.OutcomeFreshCache
			continue
		}
		pending = append(pending, i)
		force[item.ID] = force[item.ID] || q.ForceRefresh
		if ok && e.FetchedAt.After(seen[item.ID]) {
			seen[item.ID] = e.FetchedAt
		}
	}

	if len(pending) == 0 {
		return results
	}

	// A historical fetch also satisfies plain queries for the same id.
	wantHist := make(map[domain.ItemID]bool)
	for _, i := range pending {
		if qs[i].Historical {
			wantHist[ids[i]] = true
		} else if _, ok := wantHist[ids[i]]; !ok {
			wantHist[ids[i]] = false
		}
	}
	var histIDs, plainIDs []domain.ItemID
	for id, hist := range wantHist {
		if hist {
			histIDs = append(histIDs, id)
		} else {
			plainIDs = append(plainIDs, id)
		}
	}

	var (
		mu       sync.Mutex
		outcomes = make(map[domain.ItemID]fetchOutcome, len(wantHist))
	)
	merge := func(m map[domain.ItemID]fetchOutcome) {
		mu.Lock()
		defer mu.Unlock()
		for id, o := range m {
			outcomes[id] = o
		}
	}

	// An entry written by another caller since the check above is used
	// as is; forced ids only accept one written after the check.
	ready := func(historical bool) func(domain.ItemID, domain.CacheEntry) bool {
		return func(id domain.ItemID, e domain.CacheEntry) bool {
			if !r.fresh(e, historical) {
				return false
			}
			return !force[id] || e.FetchedAt.After(seen[id])
		}
	}

	var g errgroup.Group
	if len(histIDs) > 0 {
		g.Go(func() error {
			merge(r.fetch(ctx, histIDs, true, ready(true)))
			return nil
		})
	}
	if len(plainIDs) > 0 {
		g.Go(func() error {
			merge(r.fetch(ctx, plainIDs, false, ready(false)))
			return nil
		})
	}
	_ = g.Wait()

	for _, i := range pending {
		r.finish(ctx, &results[i], ids[i], outcomes[ids[i]])
	}
	return results
}

// resolve maps a query to its catalog item.
func (r *Resolver) resolve(q domain.Query) (domain.Item, error) {
	id := q.ID
	if !q.ByID {
		var err error
		id, err = r.catalog.Resolve(q.Text)
		if err != nil {
			return domain.Item{}, err
		}
	}
	return r.catalog.Lookup(id)
}

// satisfies reports whether a cached entry answers q without a fetch.
func (r *Resolver) satisfies(q domain.Query, e domain.CacheEntry) bool {
	return !q.ForceRefresh && r.fresh(e, q.Historical)
}

// fresh reports whether e answers a query of the given kind. A plain query
// never accepts an entry older than PriceTTL, even one kept longer for its
// history.
func (r *Resolver) fresh(e domain.CacheEntry, historical bool) bool {
	if historical {
		return e.Record.HasHistory() && r.cache.IsFresh(e)
	}
	if r.cfg.PriceTTL > 0 && e.TTL > r.cfg.PriceTTL {
		e.TTL = r.cfg.PriceTTL
	}
	return r.cache.IsFresh(e)
}

type fetchOutcome struct {
	entry domain.CacheEntry
	err   error
	// cached is set when another caller's fetch landed before the claim.
	cached bool
}

// fetch obtains fresh entries for ids, fetching the ones nobody else is
// fetching and waiting on the rest. Ids whose entry satisfies ready by the
// time they are claimed are not fetched at all.
func (r *Resolver) fetch(
	ctx context.Context,
	ids []domain.ItemID,
	historical bool,
	ready func(domain.ItemID, domain.CacheEntry) bool,
) map[domain.ItemID]fetchOutcome {
	out := make(map[domain.ItemID]fetchOutcome, len(ids))

	for round := 0; len(ids) > 0; round++ {
		owned, waiting, cached := r.cache.ClaimUnless(ids, historical, ready)
		for id, e := range cached {
			out[id] = fetchOutcome{entry: e, cached: true}
		}
		if len(owned) > 0 {
			for id, o := range r.fetchOwned(ctx, owned, historical) {
				out[id] = o
			}
		}

		var (
			mu    sync.Mutex
			retry []domain.ItemID
		)
		g := new(errgroup.Group)
		g.SetLimit(r.cfg.Workers)
		for id, f := range waiting {
			g.Go(func() error {
				entry, err := f.Wait(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err == nil && historical && !entry.Record.HasHistory() {
					if round+1 < maxClaimRounds {
						retry = append(retry, id)
						return nil
					}
					r.logger.WarnContext(ctx, "resolver: history unavailable, gave up re-claiming",
						slog.Int("item_id", int(id)),
						slog.Int("rounds", maxClaimRounds),
					)
					err = fmt.Errorf("resolver: history for item %d: %w", id, domain.ErrNoData)
				}
				out[id] = fetchOutcome{entry: entry, err: err}
				return nil
			})
		}
		_ = g.Wait()

		ids = retry
	}
	return out
}

// fetchOwned performs the upstream fetch for ids this caller claimed and
// settles every one of them, success or not.
func (r *Resolver) fetchOwned(ctx context.Context, ids []domain.ItemID, historical bool) map[domain.ItemID]fetchOutcome {
	res := r.source.FetchPrices(ctx, ids, historical)
	ttl := r.ttl(historical)

	out := make(map[domain.ItemID]fetchOutcome, len(ids))
	var fetched []domain.PriceRecord
	for _, id := range ids {
		pr, ok := res[id]
		if !ok {
			pr.Err = fmt.Errorf("resolver: no result for item %d: %w", id, domain.ErrNoData)
		}
		if pr.Err == nil {
			if err := ctx.Err(); err != nil {
				pr.Err = err
			}
		}
		entry, err := r.cache.Settle(id, pr.Record, ttl, pr.Err)
		out[id] = fetchOutcome{entry: entry, err: err}
		if err == nil {
			fetched = append(fetched, entry.Record)
		}
	}

	if r.recorder != nil && len(fetched) > 0 {
		if err := r.recorder.Record(ctx, fetched, time.Now()); err != nil {
			r.logger.WarnContext(ctx, "resolver: record prices failed",
				slog.Int("records", len(fetched)),
				slog.String("error", err.Error()),
			)
		}
	}
	return out
}

// finish fills a pending result from its fetch outcome, falling back to the
// stale cached entry when the fetch failed.
func (r *Resolver) finish(ctx context.Context, res *domain.Result, id domain.ItemID, o fetchOutcome) {
	if o.err == nil {
		e := o.entry
		res.Entry = &e
		res.Outcome = domain.OutcomeFetched
		if o.cached {
			res.Outcome = domain.OutcomeFreshCache
		}
		return
	}

	if stale, ok := r.cache.Get(id); ok {
		r.logger.InfoContext(ctx, "resolver: refresh failed, serving stale price",
			slog.Int("item_id", int(id)),
			slog.Time("fetched_at", stale.FetchedAt),
			slog.String("error", o.err.Error()),
		)
		res.Entry = &stale
		res.Outcome = domain.OutcomeStaleFallback
		res.Err = o.err
		return
	}

	res.Outcome = domain.OutcomeFailed
	res.Err = fmt.Errorf("%w: %w", domain.ErrNoData, o.err)
}

func (r *Resolver) ttl(historical bool) time.Duration {
	if historical && r.cfg.HistoryTTL > 0 {
		return r.cfg.HistoryTTL
	}
	return r.cfg.PriceTTL
}
