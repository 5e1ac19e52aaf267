package matcher

import (
	"context"
	"sync"

	"github.com/haukened/siteblock/internal/siteblock/common/log"
	"github.com/haukened/siteblock/internal/siteblock/common/utils"
	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore"
)

// maxBloomKeys caps the pre-filter size. Lists whose hostname substrings
// exceed it are scanned without a filter.
const maxBloomKeys = 1 << 20

// EntrySource supplies the block list and its change notifications.
type EntrySource interface {
	Identifiers() ([]string, error)
	Watch(ctx context.Context, keys ...string) <-chan kvstore.Change
}

// Options configures an Engine. A nil Cache disables caching; a nil Bloom
// disables the pre-filter.
type Options struct {
	Cache  blocklist.DecisionCache
	Bloom  blocklist.BloomFactory
	FPRate float64
	Logger log.Logger
}

// Stats is a snapshot of the engine's index and cache.
type Stats struct {
	Entries   int
	Hostnames int
	Filtered  bool // a Bloom pre-filter is active
	Cache     blocklist.CacheStats
}

// Engine answers block decisions from an in-memory index of the block list.
// The index is loaded on first use and rebuilt by Refresh, which Run calls
// on every change to the stored list.
type Engine struct {
	src     EntrySource
	cache   blocklist.DecisionCache
	factory blocklist.BloomFactory
	fpRate  float64
	logger  log.Logger

	mu    sync.RWMutex
	index *index
}

type index struct {
	entries   []string
	kinds     []domain.IdentifierKind
	hostnames int
	bloom     blocklist.BloomFilter
}

// NewEngine returns an Engine reading from src.
func NewEngine(src EntrySource, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Engine{
		src:     src,
		cache:   opts.Cache,
		factory: opts.Bloom,
		fpRate:  opts.FPRate,
		logger:  opts.Logger,
	}
}

// Decide returns the decision for a navigation to rawURL on host. An empty
// host is taken from rawURL. Policy: on internal errors, prefer Allow.
func (e *Engine) Decide(rawURL, host string) domain.BlockDecision {
	href := utils.DecodeURL(rawURL)
	if IsExcluded(href) {
		return domain.ExcludedDecision()
	}
	if host == "" {
		host = utils.HostnameOf(rawURL)
	}

	idx, err := e.current()
	if err != nil {
		e.logger.Error(map[string]any{"url": rawURL, "error": err}, "block list unavailable, allowing navigation")
		return domain.EmptyDecision()
	}

	key := blocklist.DecisionKey(href, host)
	if d, ok := e.checkCache(key); ok {
		return d
	}
	dec := idx.match(href, host)
	e.updateCache(idx, key, dec)
	return dec
}

// Refresh reloads the block list, rebuilds the pre-filter and purges the cache.
func (e *Engine) Refresh() error {
	ids, err := e.src.Identifiers()
	if err != nil {
		return err
	}
	idx := e.build(ids)

	e.mu.Lock()
	e.index = idx
	if e.cache != nil {
		e.cache.Purge()
	}
	e.mu.Unlock()

	e.logger.Debug(map[string]any{"entries": len(idx.entries), "filtered": idx.bloom != nil}, "matcher index rebuilt")
	return nil
}

// Run loads the index and keeps it in step with the stored block list until
// ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	changes := e.src.Watch(ctx, domain.KeyBlockList)
	if err := e.Refresh(); err != nil {
		e.logger.Warn(map[string]any{"error": err}, "initial block list load failed")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			if err := e.Refresh(); err != nil {
				e.logger.Warn(map[string]any{"error": err}, "block list reload failed")
			}
		}
	}
}

// Stats reports the current index size and cache counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var st Stats
	if e.index != nil {
		st.Entries = len(e.index.entries)
		st.Hostnames = e.index.hostnames
		st.Filtered = e.index.bloom != nil
	}
	if e.cache != nil {
		st.Cache.Size = e.cache.Len()
		st.Cache.Hits, st.Cache.Misses, st.Cache.Evictions = e.cache.Stats()
	}
	return st
}

func (e *Engine) current() (*index, error) {
	e.mu.RLock()
	idx := e.index
	e.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}
	if err := e.Refresh(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index, nil
}

func (e *Engine) checkCache(key string) (domain.BlockDecision, bool) {
	if e.cache == nil {
		return domain.BlockDecision{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Get(key)
}

// updateCache stores dec unless the index was swapped since it was computed.
func (e *Engine) updateCache(idx *index, key string, dec domain.BlockDecision) {
	if e.cache == nil {
		return
	}
	e.mu.Lock()
	if e.index == idx {
		e.cache.Put(key, dec)
	}
	e.mu.Unlock()
}

func (e *Engine) build(ids []string) *index {
	idx := &index{
		entries: append([]string(nil), ids...),
		kinds:   make([]domain.IdentifierKind, len(ids)),
	}
	var keys uint64
	for i, id := range ids {
		idx.kinds[i] = domain.KindOf(id)
		if idx.kinds[i] == domain.IdentifierHostname {
			idx.hostnames++
			keys += blocklist.HostnameKeyCount(id)
		}
	}
	if e.factory == nil || keys > maxBloomKeys {
		return idx
	}
	bf := e.factory.New(keys, e.fpRate)
	for i, id := range ids {
		if idx.kinds[i] != domain.IdentifierHostname {
			continue
		}
		blocklist.AddHostnameKeys(bf, id)
	}
	idx.bloom = bf
	return idx
}

// mayMatchHostname reports whether any hostname entry could match host.
func (idx *index) mayMatchHostname(host string) bool {
	if idx.hostnames == 0 {
		return false
	}
	return idx.bloom == nil || blocklist.MayContainHost(idx.bloom, host)
}

// match applies the rule in list order. Hostname entries are skipped
// entirely when the pre-filter rules them out; URL entries always run.
func (idx *index) match(href, host string) domain.BlockDecision {
	hostMaybe := idx.mayMatchHostname(host)
	for i, entry := range idx.entries {
		if idx.kinds[i] == domain.IdentifierHostname && !hostMaybe {
			continue
		}
		if MatchEntry(href, host, entry) {
			return domain.BlockDecision{Blocked: true, MatchedEntry: entry, Kind: idx.kinds[i]}
		}
	}
	return domain.EmptyDecision()
}
