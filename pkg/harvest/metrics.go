package harvest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for harvest runs.
var (
	harvestIDsAttempted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_ids_attempted_total",
		Help: "Total poem IDs requested",
	})

	harvestRecordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_records_written_total",
		Help: "Total envelopes appended to the output file",
	})

	harvestFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_fetch_failures_total",
		Help: "Total poem IDs whose fetch failed, by error class",
	}, []string{"class"})

	harvestWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_write_failures_total",
		Help: "Total envelopes that could not be appended to the output file",
	})

	harvestIDsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_ids_skipped_total",
		Help: "Total poem IDs skipped because the ledger already had them",
	})

	harvestBatchesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_batches_active",
		Help: "Number of batches currently being fetched",
	})

	harvestBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_batch_duration_seconds",
		Help:    "Wall time to finish one batch",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
)
