// Package cache implements the credential cache that sits between the
// authentication stage and the access policy backends.
//
// Each application key owns a slot whose entry pointer is swapped
// atomically. Entries carry the generation of the resolve that produced
// them, and a slot only accepts entries newer than the one it holds, so a
// slow resolve can never overwrite one that started later. Misses are
// collapsed with singleflight; NotFound results are cached as tombstones
// with a shorter TTL; backend failures are never cached.
//
// Basic usage:
//
//	c := cache.New(store, cache.DefaultConfig(), cache.WithMetrics(metrics))
//	p, err := c.Get(ctx, appKey)
//	if policy.IsNotFound(err) {
//	    // reject
//	}
package cache
