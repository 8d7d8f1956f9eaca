package domain

// ItemID is the wiki's numeric item identifier. Zero is a valid id.
type ItemID int

// Item is one tradable entry of the item catalog.
type Item struct {
	ID      ItemID
	Name    string
	Aliases []string
	Members bool
	Limit   int
	Examine string
}

// Candidate is a scored fuzzy match, surfaced when a name is ambiguous.
type Candidate struct {
	Item  Item
	Score float64
}
