// Package cache holds cached responses keyed by request fingerprint.
//
// A Registry owns one Cache and one Store per cache id. The Cache maps
// fingerprints to CacheEntry values; the Store carries the settings shared by
// the Finder and Collector of that id (payload size limit, accepted status
// pattern, protocol).
//
// # Entry lifecycle
//
// A newly loaded entry has no payload and reports expired. A Finder
// reincarnates expired entries, giving them a fresh expiry window, and a
// Collector populates them with the response:
//
//	entry, err := c.Get(ctx, fp)
//	if entry.IsExpired() {
//		_ = entry.Reincarnate(ttl)
//	}
//	...
//	err = entry.Populate(payload, false, headers, "200", "OK", ttl)
//
// Entries are evicted InvalidationHorizon after their last write, and the
// least recently used entry goes first once a Cache exceeds its bound.
//
// # Metrics
//
//   - exchange_cache_hits_total{cache_id}
//   - exchange_cache_misses_total{cache_id}
//   - exchange_cache_stale_total{cache_id}
//   - exchange_cache_stored_total{cache_id}
//   - exchange_cache_rejected_total{cache_id}
//   - exchange_cache_size_limit_exceeded_total{cache_id}
//   - exchange_cache_payload_bytes{cache_id}
//   - exchange_cache_entries{cache_id}
//   - exchange_cache_evictions_total{cache_id,reason}
package cache
