// Package matcher decides whether a navigation hits the block list.
//
// The rule itself (Match, IsBlocked) is pure. Engine wraps it with a Bloom
// pre-filter and an LRU decision cache that are rebuilt whenever the stored
// block list changes.
package matcher

import (
	"strings"

	"github.com/haukened/siteblock/internal/siteblock/common/utils"
	"github.com/haukened/siteblock/internal/siteblock/domain"
)

// excludedMarkers never reach the rule: browser-internal and extension pages.
var excludedMarkers = []string{
	"chrome://",
	"chrome-extension://",
	"moz-extension://",
	"about:",
}

// IsExcluded reports whether href is outside enforcement. href is expected
// to be decoded already.
func IsExcluded(href string) bool {
	if href == "" {
		return true
	}
	for _, m := range excludedMarkers {
		if strings.Contains(href, m) {
			return true
		}
	}
	return !strings.HasPrefix(href, "http")
}

// MatchEntry applies the rule for a single entry.
//
// URL entries (prefix "http") match the exact URL or any URL it prefixes.
// Hostname entries match the same host, any subdomain of it, and any host
// that is a substring of the entry. The last clause is a known quirk: a
// stored "notexample.com" blocks a navigation to "example.com". It is kept
// for compatibility with existing block lists.
func MatchEntry(href, host, entry string) bool {
	if domain.KindOf(entry) == domain.IdentifierURL {
		return href == entry || strings.HasPrefix(href, entry)
	}
	return host == entry ||
		strings.HasSuffix(host, "."+entry) ||
		strings.Contains(entry, host)
}

// Match evaluates rawURL against entries in order and returns the first hit.
// rawURL is percent-decoded before evaluation; malformed escapes leave it as is.
func Match(rawURL, host string, entries []string) domain.BlockDecision {
	href := utils.DecodeURL(rawURL)
	if IsExcluded(href) {
		return domain.ExcludedDecision()
	}
	for _, e := range entries {
		if MatchEntry(href, host, e) {
			return domain.BlockDecision{Blocked: true, MatchedEntry: e, Kind: domain.KindOf(e)}
		}
	}
	return domain.EmptyDecision()
}

// IsBlocked reports whether rawURL on host matches any entry.
func IsBlocked(rawURL, host string, entries []string) bool {
	return Match(rawURL, host, entries).Blocked
}
