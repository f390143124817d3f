// Package metrics exposes the harvester's Prometheus metrics over HTTP.
// The metrics themselves are defined next to the code that updates them
// (harvest, sink, client, cache, ratelimit) and registered via promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Gatherer is the registry read by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Server serves /metrics until its context is cancelled.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Listen binds addr (e.g. ":9090") and returns a server ready to Serve.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.listener)
	}()

	log.Info().Str("addr", s.Addr()).Msg("Serving metrics")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Metrics Documentation
//
// Harvest Metrics (pkg/harvest):
//   - harvest_ids_attempted_total (Counter): Poem IDs requested
//   - harvest_records_written_total (Counter): Envelopes appended to the output file
//   - harvest_fetch_failures_total{class} (Counter): Failed fetches by error class
//   - harvest_write_failures_total (Counter): Envelopes that could not be appended
//   - harvest_ids_skipped_total (Counter): IDs skipped because the ledger had them
//   - harvest_batches_active (Gauge): Batches currently running
//   - harvest_batch_duration_seconds (Histogram): Wall time per batch
//
// Sink Metrics (pkg/sink):
//   - harvest_sink_bytes_written_total (Counter): Bytes appended
//   - harvest_sink_lock_wait_seconds (Histogram): Time waiting for the file lock
//
// Request Metrics (pkg/client):
//   - souyun_requests_total{status} (Counter): Requests by HTTP status
//   - souyun_request_duration_seconds (Histogram): Request duration
//   - souyun_errors_total{class} (Counter): Errors by class
//   - souyun_retries_total{error_class}, souyun_retry_backoff_seconds{error_class},
//     souyun_retry_exhausted_total{error_class}: Retry behaviour
//
// Cache Metrics (pkg/cache):
//   - souyun_cache_hits_total, souyun_cache_misses_total (Counter)
//   - souyun_cache_bytes_total{direction} (Counter)
//   - souyun_cache_errors_total{operation} (Counter)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - souyun_rate_limit_wait_seconds (Histogram)
//   - souyun_rate_limit_throttles_total (Counter)
//
// Example Prometheus Queries:
//
//   # Harvest throughput
//   rate(harvest_records_written_total[5m])
//
//   # Failure ratio
//   sum(rate(harvest_fetch_failures_total[5m])) / rate(harvest_ids_attempted_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(souyun_request_duration_seconds_bucket[5m]))
