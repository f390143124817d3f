// Package ratelimit throttles outgoing poem API requests.
// All batch fetchers share one token bucket so the aggregate request rate
// stays under the configured limit however many batches run at once.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request throttling.
var (
	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "souyun_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting for a rate limit token",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "souyun_rate_limit_throttles_total",
		Help: "Total number of requests delayed by the rate limiter",
	})
)

// slowWaitThreshold is the wait above which a throttle is logged at debug level.
const slowWaitThreshold = 100 * time.Millisecond

// Limiter gates requests with a shared token bucket.
// A nil *Limiter or one built with a non-positive rate never blocks.
type Limiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a limiter allowing perSecond requests per second with the given burst.
// perSecond <= 0 disables limiting.
func New(perSecond float64, burst int, logger zerolog.Logger) *Limiter {
	if perSecond <= 0 {
		return &Limiter{logger: logger}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

// Enabled reports whether the limiter actually throttles.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limiter != nil
}

// Wait blocks until a request may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if !l.Enabled() {
		return nil
	}

	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	waited := time.Since(start)
	rateLimitWaitSeconds.Observe(waited.Seconds())
	if waited > slowWaitThreshold {
		rateLimitThrottlesTotal.Inc()
		l.logger.Debug().
			Dur("waited", waited).
			Msg("Request throttled by rate limiter")
	}

	return nil
}
