package matcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/siteblock/internal/siteblock/common/clock"
	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist/bloom"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist/lru"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore/memory"
)

// fakeSource counts loads and can be told to fail.
type fakeSource struct {
	mu    sync.Mutex
	ids   []string
	err   error
	loads int
}

func (f *fakeSource) Identifiers() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return append([]string(nil), f.ids...), f.err
}

func (f *fakeSource) Watch(ctx context.Context, _ ...string) <-chan kvstore.Change {
	ch := make(chan kvstore.Change)
	go func() { <-ctx.Done(); close(ch) }()
	return ch
}

// recordingBloom lets tests see which keys were queried.
type recordingBloom struct {
	blocklist.BloomFilter
	mu      sync.Mutex
	queries []string
}

func (r *recordingBloom) MightContain(key []byte) bool {
	r.mu.Lock()
	r.queries = append(r.queries, string(key))
	r.mu.Unlock()
	return r.BloomFilter.MightContain(key)
}

type recordingFactory struct{ last *recordingBloom }

func (f *recordingFactory) New(capacity uint64, fp float64) blocklist.BloomFilter {
	f.last = &recordingBloom{BloomFilter: bloom.NewFactory().New(capacity, fp)}
	return f.last
}

func newEngine(t *testing.T, ids ...string) (*Engine, *fakeSource) {
	t.Helper()
	cache, err := lru.New(64)
	require.NoError(t, err)
	src := &fakeSource{ids: ids}
	return NewEngine(src, Options{Cache: cache, Bloom: bloom.NewFactory(), FPRate: 0.01}), src
}

func TestEngine_Scenario_RedirectTargetList(t *testing.T) {
	e, _ := newEngine(t, "example.com")
	d := e.Decide("http://sub.example.com/path", "sub.example.com")
	assert.True(t, d.Blocked)
	assert.Equal(t, "example.com", d.MatchedEntry)
	assert.Equal(t, domain.IdentifierHostname, d.Kind)

	assert.False(t, e.Decide("https://safe.example/", "safe.example").Blocked)
}

func TestEngine_AgreesWithPureRule(t *testing.T) {
	entries := []string{
		"example.com",
		"mail.notexample.com",
		"https://news.example.net/politics",
		"video.site.org",
		"x",
	}
	navs := []struct{ url, host string }{
		{"https://example.com/", "example.com"},
		{"https://a.b.example.com/", "a.b.example.com"},
		{"https://notexample.com/", "notexample.com"},
		{"https://mail.not/", "mail.not"},
		{"https://news.example.net/politics/1", "news.example.net"},
		{"https://news.example.net/sports", "news.example.net"},
		{"https://site.org/", "site.org"},
		{"https://www.video.site.org/", "www.video.site.org"},
		{"https://totally-unrelated.io/", "totally-unrelated.io"},
		{"https://qqq.zzz/", "qqq.zzz"},
		{"https://x/", "x"},
		{"chrome://newtab", ""},
		{"https:///nohost", ""},
	}
	e, _ := newEngine(t, entries...)
	for _, n := range navs {
		want := Match(n.url, n.host, entries)
		// twice: once computed, once from cache
		for i := 0; i < 2; i++ {
			got := e.Decide(n.url, n.host)
			assert.Equal(t, want, got, "%s (pass %d)", n.url, i)
		}
	}
}

func TestEngine_BloomChecksHostAndDotSuffixes(t *testing.T) {
	f := &recordingFactory{}
	src := &fakeSource{ids: []string{"blocked.example"}}
	e := NewEngine(src, Options{Bloom: f, FPRate: 1e-9})

	d := e.Decide("https://a.b.unrelated.test/", "a.b.unrelated.test")
	assert.False(t, d.Blocked)
	require.NotNil(t, f.last)
	assert.Equal(t, []string{"a.b.unrelated.test", "b.unrelated.test", "unrelated.test", "test"}, f.last.queries[:4])
}

func TestEngine_NoBloomWhenOnlyURLs(t *testing.T) {
	e, _ := newEngine(t, "https://example.com/a")
	assert.True(t, e.Decide("https://example.com/a/b", "example.com").Blocked)
	assert.False(t, e.Decide("https://example.com/b", "example.com").Blocked)
	st := e.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 0, st.Hostnames)
}

func TestEngine_HostDerivedFromURL(t *testing.T) {
	e, _ := newEngine(t, "example.com")
	assert.True(t, e.Decide("https://WWW.Example.com/x", "").Blocked)
}

func TestEngine_CachesUntilRefresh(t *testing.T) {
	e, src := newEngine(t, "example.com")
	assert.True(t, e.Decide("https://example.com/", "example.com").Blocked)
	assert.Equal(t, 1, src.loads)

	src.mu.Lock()
	src.ids = nil
	src.mu.Unlock()

	// cached decision and index survive until the list is reloaded
	assert.True(t, e.Decide("https://example.com/", "example.com").Blocked)
	require.NoError(t, e.Refresh())
	assert.False(t, e.Decide("https://example.com/", "example.com").Blocked)

	st := e.Stats()
	assert.Equal(t, uint64(1), st.Cache.Hits)
}

func TestEngine_LoadErrorAllows(t *testing.T) {
	src := &fakeSource{ids: []string{"example.com"}, err: errors.New("store offline")}
	e := NewEngine(src, Options{})
	d := e.Decide("https://example.com/", "example.com")
	assert.False(t, d.Blocked)

	// the next decision retries the load
	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	assert.True(t, e.Decide("https://example.com/", "example.com").Blocked)
}

func TestEngine_HugeEntriesSkipFilter(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	e, _ := newEngine(t, string(long)+".example")
	require.NoError(t, e.Refresh())
	assert.False(t, e.Stats().Filtered)
	assert.True(t, e.Decide("https://aaa/", "aaa").Blocked, "reverse containment still applies without a filter")
}

func TestEngine_RunFollowsStore(t *testing.T) {
	st := memory.New()
	defer st.Close()
	repo := blocklist.New(st, blocklist.Options{Clock: &clock.MockClock{CurrentTime: time.Unix(1723550000, 0)}})
	cache, err := lru.New(16)
	require.NoError(t, err)
	e := NewEngine(repo, Options{Cache: cache, Bloom: bloom.NewFactory(), FPRate: 0.01})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Run subscribes before its first load, so a loaded index means changes are being watched
	require.Eventually(t, func() bool {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.index != nil
	}, time.Second, 5*time.Millisecond)
	assert.False(t, e.Decide("https://example.com/", "").Blocked)

	_, err = repo.Add("example.com")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.Decide("https://example.com/", "").Blocked }, 2*time.Second, 5*time.Millisecond)

	_, err = repo.Remove("example.com")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !e.Decide("https://example.com/", "").Blocked }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func BenchmarkEngine_Decide(b *testing.B) {
	ids := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		ids = append(ids, fmt.Sprintf("site%03d.example", i))
	}
	for _, tc := range []struct {
		name  string
		cache int
	}{{"cached", 1024}, {"uncached", 0}} {
		b.Run(tc.name, func(b *testing.B) {
			cache, _ := lru.New(tc.cache)
			e := NewEngine(&fakeSource{ids: ids}, Options{Cache: cache, Bloom: bloom.NewFactory(), FPRate: 0.01})
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if i%2 == 0 {
					_ = e.Decide("https://www.site042.example/page", "www.site042.example")
				} else {
					_ = e.Decide("https://unrelated.test/page", "unrelated.test")
				}
			}
		})
	}
}

func TestEngine_MixedCaseHostnameEntryBlocks(t *testing.T) {
	st := memory.New()
	defer st.Close()
	repo := blocklist.New(st, blocklist.Options{Clock: &clock.MockClock{CurrentTime: time.Unix(1723550000, 0)}})
	_, err := repo.Add("Example.COM")
	require.NoError(t, err)

	e := NewEngine(repo, Options{Bloom: bloom.NewFactory(), FPRate: 0.01})
	require.NoError(t, e.Refresh())
	assert.True(t, e.Decide("https://example.com/", "").Blocked)
	assert.True(t, e.Decide("https://news.example.com/today", "").Blocked)
}
