// Package cache provides a generic, thread-safe bounded cache with
// insertion-order eviction.
//
// When the cache reaches its configured capacity, the oldest-inserted item is
// evicted, not the least recently used one. Reads never reorder items, so
// the eviction sequence for a given insertion sequence is fully reproducible.
// This makes the cache suitable for memoizing deterministic work, such as
// deserialized variable values, where reproducible behavior matters more than
// hit-rate tuning.
//
// # Usage
//
//	c := cache.New[string, Payload](128)
//	c.Put("raw-json", decoded)
//	if v, ok := c.Get("raw-json"); ok {
//		// use v
//	}
//
// For values that need cleanup when dropped, register an eviction callback:
//
//	c.SetEvictCallback(func(key string, v Payload) { v.Release() })
//
// All operations are safe for concurrent use and run in O(1).
package cache
