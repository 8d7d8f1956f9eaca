// Package app provides the top-level application lifecycle for osrsprice. It
// wires the catalog, cache, price client and resolver, runs one batch of
// queries, renders the results and guarantees the cache snapshot is flushed
// on every exit path.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/osrsprice/internal/config"
	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// ErrQueriesFailed is returned by Run when at least one query produced no
// price. Any other error from Run is a fatal startup failure.
var ErrQueriesFailed = errors.New("some queries failed")

// Request is one invocation's worth of CLI input.
type Request struct {
	// Items are item names or numeric ids.
	Items          []string
	Historical     bool
	ForceRefresh   bool
	RefreshMapping bool
	// Search prices every catalog item whose name contains one of Items.
	Search bool
	Format string
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	base    *slog.Logger
	logger  *slog.Logger
	runID   uuid.UUID
	out     io.Writer
	closers []func()
}

// New creates a new App writing results to out.
func New(cfg *config.Config, logger *slog.Logger, out io.Writer) *App {
	runID := uuid.New()
	base := logger.With(slog.String("run_id", runID.String()))
	return &App{
		cfg:    cfg,
		base:   base,
		logger: base.With(slog.String("component", "app")),
		runID:  runID,
		out:    out,
	}
}

// Run wires all dependencies, answers the request and renders the results.
// It returns ErrQueriesFailed when some query failed, or a wrapped fatal
// error (e.g. domain.ErrCatalogUnavailable) when nothing could run.
func (a *App) Run(ctx context.Context, req Request) error {
	a.logger.DebugContext(ctx, "starting application",
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	renderer, err := newRenderer(req.Format, a.out)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.base, a.runID, req.RefreshMapping)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	var queries []domain.Query
	if req.Search {
		queries = SearchQueries(deps.Catalog, req)
		if len(queries) == 0 {
			return renderer.noMatches()
		}
	} else {
		queries = BuildQueries(req)
	}
	results := deps.Resolver.QueryBatch(ctx, queries)

	if err := renderer.results(results); err != nil {
		return fmt.Errorf("app: render: %w", err)
	}

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	a.logger.InfoContext(ctx, "queries complete",
		slog.Int("queries", len(results)),
		slog.Int("failed", failed),
	)
	if failed > 0 {
		return fmt.Errorf("app: %d of %d: %w", failed, len(results), ErrQueriesFailed)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Debug("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Searcher lists catalog items by name substring.
type Searcher interface {
	Search(substr string) []domain.Item
}

// SearchQueries builds one id query per distinct item whose name contains
// any of req.Items, in match order.
func SearchQueries(cat Searcher, req Request) []domain.Query {
	var qs []domain.Query
	seen := make(map[domain.ItemID]bool)
	for _, text := range req.Items {
		for _, it := range cat.Search(text) {
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			qs = append(qs, domain.Query{
				Text:         it.Name,
				ID:           it.ID,
				ByID:         true,
				Historical:   req.Historical,
				ForceRefresh: req.ForceRefresh,
			})
		}
	}
	return qs
}

// CheckFormat reports whether format names a known output format.
func CheckFormat(format string) error {
	_, err := newRenderer(format, io.Discard)
	return err
}

// BuildQueries turns CLI items into queries. An item made only of digits is
// an item id; anything else is a name.
func BuildQueries(req Request) []domain.Query {
	qs := make([]domain.Query, 0, len(req.Items))
	for _, item := range req.Items {
		q := domain.Query{
			Text:         strings.TrimSpace(item),
			Historical:   req.Historical,
			ForceRefresh: req.ForceRefresh,
		}
		if n, err := strconv.Atoi(q.Text); err == nil && n >= 0 {
			q.ID = domain.ItemID(n)
			q.ByID = true
		}
		qs = append(qs, q)
	}
	return qs
}
