package blocklist

import "github.com/haukened/siteblock/internal/siteblock/domain"

// BloomSizer computes Bloom filter parameters from capacity (n) and target FP rate (p).
// It returns m (number of bits) and k (number of hash functions).
type BloomSizer interface {
	Size(n uint64, p float64) (m uint64, k uint8)
}

// BloomFilter is the minimal interface the matcher needs from Bloom filters.
// Filters are never reset; a changed block list gets a freshly sized one.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory builds filters sized for capacity keys at fpRate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// DecisionCache caches block decisions by navigation key with basic metrics.
type DecisionCache interface {
	Get(key string) (domain.BlockDecision, bool)
	Put(key string, d domain.BlockDecision)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}
