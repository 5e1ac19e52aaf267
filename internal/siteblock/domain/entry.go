package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/haukened/siteblock/internal/siteblock/common/utils"
)

// IdentifierKind defines how a stored identifier matches navigations.
//
// hostname - matches the host, its subdomains, and any host it contains
// url      - matches any navigated URL that starts with it
type IdentifierKind uint8

const (
	// IdentifierHostname is a bare hostname such as "example.com".
	IdentifierHostname IdentifierKind = iota
	// IdentifierURL is a full URL string, recognised by its "http" prefix.
	IdentifierURL
)

// String returns a stable string representation of the identifier kind.
func (k IdentifierKind) String() string {
	switch k {
	case IdentifierHostname:
		return "hostname"
	case IdentifierURL:
		return "url"
	default:
		return fmt.Sprintf("IdentifierKind(%d)", k)
	}
}

// KindOf classifies an identifier. Anything starting with "http" is a URL.
func KindOf(identifier string) IdentifierKind {
	if strings.HasPrefix(identifier, "http") {
		return IdentifierURL
	}
	return IdentifierHostname
}

// BlockEntry is a single blocked site.
//
// CreatedAt is zero for entries that were stored without a creation
// timestamp; such entries never qualify for the removal grace period.
type BlockEntry struct {
	Identifier string
	CreatedAt  time.Time
}

// CanonicalIdentifier trims identifier. Bare hostnames are also lowercased
// and lose any trailing dot so they compare equal to navigated hosts; URLs
// are kept verbatim for prefix matching.
func CanonicalIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if KindOf(identifier) == IdentifierURL {
		return identifier
	}
	return utils.CanonicalHostname(identifier)
}

// NewBlockEntry canonicalizes identifier and validates it.
func NewBlockEntry(identifier string, createdAt time.Time) (BlockEntry, error) {
	e := BlockEntry{Identifier: CanonicalIdentifier(identifier), CreatedAt: createdAt}
	if err := e.Validate(); err != nil {
		return BlockEntry{}, err
	}
	return e, nil
}

// Validate checks the entry for required fields.
func (e BlockEntry) Validate() error {
	if e.Identifier == "" {
		return ErrEmptyIdentifier
	}
	return nil
}

// Kind returns the identifier kind of the entry.
func (e BlockEntry) Kind() IdentifierKind { return KindOf(e.Identifier) }

// HasCreatedAt reports whether a creation timestamp was recorded.
func (e BlockEntry) HasCreatedAt() bool { return !e.CreatedAt.IsZero() }

// GraceLeft returns how much of the grace window remains at now, never negative.
func (e BlockEntry) GraceLeft(now time.Time, grace time.Duration) time.Duration {
	if !e.HasCreatedAt() {
		return 0
	}
	left := grace - now.Sub(e.CreatedAt)
	if left < 0 {
		return 0
	}
	return left
}

// WithinGrace reports whether the entry was created less than grace ago.
func (e BlockEntry) WithinGrace(now time.Time, grace time.Duration) bool {
	return e.HasCreatedAt() && now.Sub(e.CreatedAt) < grace
}
