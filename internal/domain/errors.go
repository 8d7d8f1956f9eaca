package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAmbiguous          = errors.New("ambiguous name")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrSchemaMismatch     = errors.New("schema mismatch")
	ErrRateLimited        = errors.New("rate limited")
	ErrNetworkTransient   = errors.New("transient network failure")
	ErrNetworkFatal       = errors.New("upstream request rejected")
	ErrCacheCorrupt       = errors.New("cache snapshot corrupt")
	ErrNoData             = errors.New("no data available")
	ErrLockHeld           = errors.New("lock held")
)

// AmbiguousError is returned when a name matches several items and none of
// them wins by the configured margin.
type AmbiguousError struct {
	Query      string
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, c.Item.Name)
	}
	return fmt.Sprintf("%q is ambiguous: %s", e.Query, strings.Join(names, ", "))
}

// Unwrap lets errors.Is(err, ErrAmbiguous) match.
func (e *AmbiguousError) Unwrap() error {
	return ErrAmbiguous
}
