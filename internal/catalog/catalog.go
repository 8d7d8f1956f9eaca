// Package catalog maps item names and aliases to wiki item ids. A Catalog is
// built once per run and is read-only afterwards, so it is safe for
// concurrent use without locking.
package catalog

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

// Options tune fuzzy resolution.
type Options struct {
	// MinScore drops fuzzy candidates scoring below it.
	MinScore float64
	// Margin is how far the best candidate must lead the runner-up to win.
	Margin float64
	// MaxCandidates caps the suggestions attached to an ambiguous result.
	MaxCandidates int
}

// DefaultOptions returns the thresholds used when none are configured.
func DefaultOptions() Options {
	return Options{MinScore: 0.6, Margin: 0.15, MaxCandidates: 10}
}

// Catalog is an immutable item directory.
type Catalog struct {
	opts  Options
	items map[domain.ItemID]domain.Item
	exact map[string]domain.ItemID
	// names holds every normalized name and alias for fuzzy scanning.
	names []nameEntry
}

type nameEntry struct {
	id     domain.ItemID
	norm   string
	tokens []string
}

// New builds a Catalog from items and an alias table (alias -> canonical
// name). Aliases naming unknown items are logged and skipped; an alias that
// collides with an existing name keeps the existing mapping.
func New(items []domain.Item, aliases map[string]string, opts Options, logger *slog.Logger) (*Catalog, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("catalog: %w: no items", domain.ErrCatalogUnavailable)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultOptions().MaxCandidates
	}

	c := &Catalog{
		opts:  opts,
		items: make(map[domain.ItemID]domain.Item, len(items)),
		exact: make(map[string]domain.ItemID, len(items)+len(aliases)),
	}

	for _, it := range items {
		if _, dup := c.items[it.ID]; dup {
			return nil, fmt.Errorf("catalog: %w: duplicate item id %d", domain.ErrCatalogUnavailable, it.ID)
		}
		it.Aliases = append([]string(nil), it.Aliases...)
		c.items[it.ID] = it
	}

	// Canonical names first so aliases never shadow them.
	for _, it := range items {
		c.addName(it.ID, it.Name)
	}
	for _, it := range items {
		for _, a := range it.Aliases {
			c.addName(it.ID, a)
		}
	}

	aliasKeys := make([]string, 0, len(aliases))
	for a := range aliases {
		aliasKeys = append(aliasKeys, a)
	}
	sort.Strings(aliasKeys)
	for _, alias := range aliasKeys {
		target, ok := c.exact[normalize(aliases[alias])]
		if !ok {
			logger.Warn("catalog: alias target not found",
				slog.String("alias", alias),
				slog.String("target", aliases[alias]),
			)
			continue
		}
		if c.addName(target, alias) {
			it := c.items[target]
			it.Aliases = append(it.Aliases, alias)
			c.items[target] = it
		}
	}

	return c, nil
}

func (c *Catalog) addName(id domain.ItemID, name string) bool {
	norm := normalize(name)
	if norm == "" {
		return false
	}
	if _, taken := c.exact[norm]; taken {
		return false
	}
	c.exact[norm] = id
	c.names = append(c.names, nameEntry{id: id, norm: norm, tokens: strings.Fields(norm)})
	return true
}

// Len returns the number of items.
func (c *Catalog) Len() int {
	return len(c.items)
}

// Lookup returns the item with the given id.
func (c *Catalog) Lookup(id domain.ItemID) (domain.Item, error) {
	it, ok := c.items[id]
	if !ok {
		return domain.Item{}, fmt.Errorf("catalog: item %d: %w", id, domain.ErrNotFound)
	}
	return it, nil
}

// Resolve maps a user supplied name to an item id. An exact, case-insensitive
// match on a name or alias wins outright; otherwise the fuzzy scorer decides,
// returning *domain.AmbiguousError when no candidate leads by the margin.
func (c *Catalog) Resolve(query string) (domain.ItemID, error) {
	norm := normalize(query)
	if norm == "" {
		return 0, fmt.Errorf("catalog: empty query: %w", domain.ErrNotFound)
	}
	if id, ok := c.exact[norm]; ok {
		return id, nil
	}

	ranked := c.rank(norm)
	if len(ranked) == 0 {
		return 0, fmt.Errorf("catalog: %q: %w", query, domain.ErrNotFound)
	}

	best := ranked[0].Score
	if len(ranked) == 1 || best-ranked[1].Score > c.opts.Margin {
		return ranked[0].Item.ID, nil
	}

	var within []domain.Candidate
	for _, cand := range ranked {
		if best-cand.Score > c.opts.Margin || len(within) == c.opts.MaxCandidates {
			break
		}
		within = append(within, cand)
	}
	return 0, &domain.AmbiguousError{Query: query, Candidates: within}
}

// Search lists every item whose name contains substr, case-insensitively,
// ordered by name.
func (c *Catalog) Search(substr string) []domain.Item {
	needle := normalize(substr)
	var out []domain.Item
	for _, it := range c.items {
		if strings.Contains(normalize(it.Name), needle) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// rank scores every item against norm, keeping each item's best name or
// alias, and returns the survivors sorted by descending score then name.
func (c *Catalog) rank(norm string) []domain.Candidate {
	qTokens := strings.Fields(norm)
	best := make(map[domain.ItemID]float64)
	for _, ne := range c.names {
		s := score(norm, qTokens, ne.norm, ne.tokens)
		if s < c.opts.MinScore {
			continue
		}
		if s > best[ne.id] {
			best[ne.id] = s
		}
	}

	out := make([]domain.Candidate, 0, len(best))
	for id, s := range best {
		out = append(out, domain.Candidate{Item: c.items[id], Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Item.Name != out[j].Item.Name {
			return out[i].Item.Name < out[j].Item.Name
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
