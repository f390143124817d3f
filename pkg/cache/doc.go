// Package cache provides a Redis-backed cache for raw poem API responses.
//
// A harvest run touches every ID once, so the cache pays off across runs:
// a re-run (or a run with resume disabled) reads bodies from Redis instead of
// hitting the remote API again.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	key := cache.CacheKey{
//		Endpoint:    "/open/poem",
//		QueryParams: url.Values{"key": []string{"42"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then manager.Set(ctx, key, cache.NewEntry(status, body, manager.TTL()))
//	}
//
// # Metrics
//
//   - souyun_cache_hits_total - Cache hits
//   - souyun_cache_misses_total - Cache misses
//   - souyun_cache_bytes_total{direction} - Bytes read from or written to the cache
//   - souyun_cache_errors_total{operation} - Cache operation errors
package cache
