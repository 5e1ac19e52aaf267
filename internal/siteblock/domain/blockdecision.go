package domain

// BlockDecision represents the outcome of evaluating a navigation against the block list.
// Pure value type, no external dependencies.
type BlockDecision struct {
	Blocked      bool           // true if the navigation matches any entry
	MatchedEntry string         // first entry, in list order, that matched
	Kind         IdentifierKind // kind of the matched entry
	Excluded     bool           // true when the URL was never evaluated (browser-internal or non-http)
}

// IsBlocked is a convenience accessor.
func (d BlockDecision) IsBlocked() bool { return d.Blocked }

// EmptyDecision returns a not-blocked decision.
func EmptyDecision() BlockDecision { return BlockDecision{Blocked: false} }

// ExcludedDecision returns the not-blocked decision for URLs outside enforcement.
func ExcludedDecision() BlockDecision { return BlockDecision{Excluded: true} }
