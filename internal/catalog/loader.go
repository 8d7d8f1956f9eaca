package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alanyoungcy/osrsprice/internal/domain"
	"github.com/alanyoungcy/osrsprice/internal/fsutil"
)

// MappingSource downloads the raw item mapping document.
type MappingSource interface {
	FetchMapping(ctx context.Context) ([]byte, error)
}

// LoadConfig controls where the mapping is cached and when it is refreshed.
type LoadConfig struct {
	// Path of the cached mapping document.
	Path string
	// MaxAge forces a re-download once the cached file is older. Zero
	// means the cached file never expires.
	MaxAge       time.Duration
	ForceRefresh bool
	Aliases      map[string]string
	Options      Options
}

// mappingEntry mirrors one element of the wiki /mapping response. Only the
// fields the catalog uses are declared.
type mappingEntry struct {
	ID      *int   `json:"id"`
	Name    string `json:"name"`
	Examine string `json:"examine"`
	Members bool   `json:"members"`
	Limit   int    `json:"limit"`
}

// Load builds the run's Catalog, downloading the mapping when the cached
// copy is missing, expired or a refresh was requested. A failed download
// falls back to an existing cached copy. Any failure to produce a catalog is
// reported as domain.ErrCatalogUnavailable.
func Load(ctx context.Context, src MappingSource, cfg LoadConfig, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "catalog"))

	cached, cacheErr := os.ReadFile(cfg.Path)
	needsFetch := cfg.ForceRefresh || cacheErr != nil || expired(cfg.Path, cfg.MaxAge)

	var items []domain.Item
	if needsFetch {
		fetched, err := src.FetchMapping(ctx)
		if err == nil {
			items, err = ParseMapping(fetched)
		}
		switch {
		case err == nil:
			if werr := fsutil.WriteFileAtomic(cfg.Path, fetched); werr != nil {
				logger.WarnContext(ctx, "catalog: could not cache mapping",
					slog.String("path", cfg.Path),
					slog.String("error", werr.Error()),
				)
			}
		case cacheErr == nil:
			logger.WarnContext(ctx, "catalog: mapping refresh failed, using cached copy",
				slog.String("path", cfg.Path),
				slog.String("error", err.Error()),
			)
		default:
			return nil, fmt.Errorf("catalog: fetch mapping: %w: %w", domain.ErrCatalogUnavailable, err)
		}
	}

	if items == nil {
		var err error
		if items, err = ParseMapping(cached); err != nil {
			return nil, err
		}
	}

	logger.DebugContext(ctx, "catalog loaded",
		slog.Int("items", len(items)),
		slog.Bool("fetched", needsFetch),
	)
	return New(items, cfg.Aliases, cfg.Options, logger)
}

// ParseMapping decodes a wiki /mapping document. Entries without an id or
// name are skipped; a document with no usable entries is an error.
func ParseMapping(body []byte) ([]domain.Item, error) {
	var raw []mappingEntry
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("catalog: decode mapping: %w: %w", domain.ErrCatalogUnavailable, err)
	}
	items := make([]domain.Item, 0, len(raw))
	for _, e := range raw {
		if e.ID == nil || e.Name == "" {
			continue
		}
		items = append(items, domain.Item{
			ID:      domain.ItemID(*e.ID),
			Name:    e.Name,
			Members: e.Members,
			Limit:   e.Limit,
			Examine: e.Examine,
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("catalog: decode mapping: %w: no items", domain.ErrCatalogUnavailable)
	}
	return items, nil
}

func expired(path string, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) > maxAge
}
