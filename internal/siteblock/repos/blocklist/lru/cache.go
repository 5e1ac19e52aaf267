package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist"
)

// newLRU is swapped in tests to exercise construction failures.
var newLRU = func(size int, onEvict func(string, domain.BlockDecision)) (*lru.Cache[string, domain.BlockDecision], error) {
	return lru.NewWithEvict(size, onEvict)
}

// decisionCache is an LRU-backed implementation of blocklist.DecisionCache,
// keyed by navigation (URL and hostname). It tracks hits, misses and evictions.
type decisionCache struct {
	lru       *lru.Cache[string, domain.BlockDecision]
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache is a no-op DecisionCache used when size <= 0.
type disabledCache struct{}

// New creates a new DecisionCache with the given capacity. If size <= 0, a
// disabled no-op cache is returned that always misses and tracks no metrics.
func New(size int) (blocklist.DecisionCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	var dc decisionCache
	// evictions include the ones caused by Purge after a block list change
	cache, err := newLRU(size, func(_ string, _ domain.BlockDecision) {
		atomic.AddUint64(&dc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	dc.lru = cache
	return &dc, nil
}

// Get looks up a decision. When found, increments hits; otherwise increments misses.
func (c *decisionCache) Get(key string) (domain.BlockDecision, bool) {
	if val, ok := c.lru.Get(key); ok {
		atomic.AddUint64(&c.hits, 1)
		return val, true
	}
	atomic.AddUint64(&c.misses, 1)
	return domain.BlockDecision{}, false
}

func (c *decisionCache) Put(key string, d domain.BlockDecision) {
	c.lru.Add(key, d)
}

func (c *decisionCache) Len() int { return c.lru.Len() }

func (c *decisionCache) Purge() { c.lru.Purge() }

// Stats returns cumulative hit/miss/eviction counters.
func (c *decisionCache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}

func (d *disabledCache) Get(string) (domain.BlockDecision, bool) {
	return domain.BlockDecision{}, false
}

func (d *disabledCache) Put(string, domain.BlockDecision) {}

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var _ blocklist.DecisionCache = (*decisionCache)(nil)
var _ blocklist.DecisionCache = (*disabledCache)(nil)
