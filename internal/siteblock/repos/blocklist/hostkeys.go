package blocklist

// Hostname entries match by substring containment in both directions, so the
// pre-filter holds every substring of every hostname entry. A host h can then
// only match when h itself, or one of h's dot-suffixes, is in the filter.

// HostnameKeyCount returns how many filter keys AddHostnameKeys adds for
// entry: every substring plus the empty one.
func HostnameKeyCount(entry string) uint64 {
	n := uint64(len(entry))
	return n*(n+1)/2 + 1
}

// AddHostnameKeys adds every substring of entry, the empty one included.
func AddHostnameKeys(bf BloomFilter, entry string) {
	bf.Add(nil)
	for i := 0; i < len(entry); i++ {
		for j := i + 1; j <= len(entry); j++ {
			bf.Add([]byte(entry[i:j]))
		}
	}
}

// MayContainHost reports whether a hostname entry added with AddHostnameKeys
// could match host. It tests host first, then each dot-suffix from the
// longest down. A false result is definite.
func MayContainHost(bf BloomFilter, host string) bool {
	if bf.MightContain([]byte(host)) {
		return true
	}
	for i := 0; i < len(host); i++ {
		if host[i] == '.' && bf.MightContain([]byte(host[i+1:])) {
			return true
		}
	}
	return false
}

// DecisionKey is the cache key of a navigation to href on host.
func DecisionKey(href, host string) string { return href + "\x00" + host }
