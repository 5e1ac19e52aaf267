package lru

import (
	"fmt"
	"testing"

	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist"
)

// navigation is one cached engine lookup.
type navigation struct {
	key      string
	decision domain.BlockDecision
}

// benchNavigations builds n navigations across a handful of sites; every
// fourth one is blocked by a hostname entry.
func benchNavigations(n int) []navigation {
	sites := []string{"reddit.com", "docs.golang.dev", "news.example.org", "mail.example.net"}
	out := make([]navigation, n)
	for i := range out {
		host := sites[i%len(sites)]
		href := fmt.Sprintf("https://%s/page/%d", host, i)
		d := domain.EmptyDecision()
		if i%4 == 0 {
			d = domain.BlockDecision{Blocked: true, MatchedEntry: host, Kind: domain.IdentifierHostname}
		}
		out[i] = navigation{key: blocklist.DecisionKey(href, host), decision: d}
	}
	return out
}

// A tab reloading the same page.
func BenchmarkCache_RepeatNavigation(b *testing.B) {
	c, err := New(1024)
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	nav := benchNavigations(1)[0]
	c.Put(nav.key, nav.decision)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if d, ok := c.Get(nav.key); !ok || !d.Blocked {
			b.Fatalf("expected cached blocked decision")
		}
	}
}

// Browsing history larger than the cache: the engine's Get then Put on miss.
func BenchmarkCache_BrowsingChurn(b *testing.B) {
	c, err := New(512)
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	navs := benchNavigations(4096)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		nav := navs[i%len(navs)]
		if _, ok := c.Get(nav.key); !ok {
			c.Put(nav.key, nav.decision)
		}
	}
	b.StopTimer()
	hits, misses, evictions := c.Stats()
	if total := hits + misses; total > 0 {
		b.ReportMetric(float64(hits)/float64(total), "hit_ratio")
	}
	b.ReportMetric(float64(evictions), "evictions")
}

// Working set that fits: 80% revisits, 20% first visits.
func BenchmarkCache_RevisitMix(b *testing.B) {
	c, err := New(10_000)
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	known := benchNavigations(8_000)
	for _, nav := range known {
		c.Put(nav.key, nav.decision)
	}
	fresh := make([]string, 2_000)
	for i := range fresh {
		fresh[i] = blocklist.DecisionKey(fmt.Sprintf("https://new%04d.example.com/", i), fmt.Sprintf("new%04d.example.com", i))
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if i%5 == 0 {
			_, _ = c.Get(fresh[i%len(fresh)])
		} else {
			_, _ = c.Get(known[i%len(known)].key)
		}
	}
}

// A block list change purges the cache, which then refills.
func BenchmarkCache_PurgeAndRefill(b *testing.B) {
	c, err := New(1024)
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	navs := benchNavigations(1024)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Purge()
		for _, nav := range navs {
			c.Put(nav.key, nav.decision)
		}
	}
}
