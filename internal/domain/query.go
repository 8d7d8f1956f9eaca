package domain

// Query is one user request: an item name or id plus request flags.
type Query struct {
	Text         string
	ID           ItemID
	ByID         bool
	Historical   bool
	ForceRefresh bool
}

// Outcome records which path through the resolver produced a result.
type Outcome string

const (
	OutcomeFreshCache    Outcome = "fresh-cache"
	OutcomeFetched       Outcome = "fetched"
	OutcomeStaleFallback Outcome = "stale-fallback"
	OutcomeFailed        Outcome = "failed"
)

// Result is the resolver's answer to a single Query. Exactly one of Entry or
// Err is meaningful, except for stale fallbacks which carry both.
type Result struct {
	Query      Query
	Item       *Item
	Entry      *CacheEntry
	Outcome    Outcome
	Candidates []Candidate
	Err        error
}

// OK reports whether the result carries a price.
func (r Result) OK() bool {
	return r.Entry != nil
}
