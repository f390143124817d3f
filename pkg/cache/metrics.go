package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "souyun_cache_hits_total",
			Help: "Total number of poem response cache hits",
		},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "souyun_cache_misses_total",
			Help: "Total number of poem response cache misses",
		},
	)

	// CacheBytes tracks bytes moved through the cache by direction
	CacheBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "souyun_cache_bytes_total",
			Help: "Bytes read from or written to the poem response cache",
		},
		[]string{"direction"}, // "read", "write"
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "souyun_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
