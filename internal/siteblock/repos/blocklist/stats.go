package blocklist

// CacheStats reports lightweight cache metrics.
// All fields are best-effort snapshots and may be updated concurrently.
type CacheStats struct {
	Size      int    // current number of entries
	Hits      uint64 // total cache hits since construction
	Misses    uint64 // total cache misses since construction
	Evictions uint64 // total evictions since construction
}

// Stats reports what is currently persisted.
type Stats struct {
	Entries   int    // identifiers in the block list
	Hostnames int    // of which bare hostnames
	URLs      int    // of which full URLs
	Pending   int    // scheduled removals
	Revision  uint64 // store write counter
}
