// Package lru provides a generic, capacity-bounded key/value cache with
// least-recently-used eviction and optional time-to-live expiry.
//
// Lookups promote an entry to most-recently-used. Adding a new key while the
// cache is full evicts the least-recently-used entry first. Expired entries
// are purged lazily: on lookup, on Pop, and by Purge. An optional eviction
// callback observes every entry the cache drops on its own; entries removed
// explicitly by the caller (Remove, Pop, Drain) are handed back instead.
package lru
