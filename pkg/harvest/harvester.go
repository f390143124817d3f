package harvest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Sternrassler/souyun-harvester/pkg/poem"
	"github.com/Sternrassler/souyun-harvester/pkg/sink"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Fetcher is the remote collaborator that returns the envelope for one poem ID.
type Fetcher interface {
	FetchPoem(ctx context.Context, id uint32) (*poem.Envelope, error)
}

// Ledger remembers which IDs already reached the output file.
type Ledger interface {
	// CompletedIn returns the completed IDs in [lo, hi).
	CompletedIn(lo, hi uint32) ([]uint32, error)
	Mark(id uint32) error
}

// Config holds harvest run configuration.
type Config struct {
	// BatchCount is the number of batches; IDs span [0, BatchCount*BatchSpan)
	BatchCount int
	// BatchSpan is the number of consecutive IDs per batch
	BatchSpan int
	// MaxConcurrency is the number of batches fetched at the same time
	MaxConcurrency int
	// FetchTimeout bounds a single FetchPoem call
	FetchTimeout time.Duration
	// ProgressEvery logs batch progress every N IDs (0 disables)
	ProgressEvery int

	// Ledger is optional; when set, completed IDs are skipped and new ones recorded
	Ledger Ledger
	// RunID tags every log line of the run; generated when empty
	RunID string
}

// DefaultConfig returns the full Tang sweep: 110 batches of 10,000 IDs, 10 at a time.
func DefaultConfig() Config {
	return Config{
		BatchCount:     110,
		BatchSpan:      10000,
		MaxConcurrency: 10,
		FetchTimeout:   30 * time.Second,
		ProgressEvery:  1000,
	}
}

// Validate checks that the ID space is non-empty and fits in uint32.
func (c Config) Validate() error {
	if c.BatchCount <= 0 {
		return fmt.Errorf("batch count must be > 0 (got %d)", c.BatchCount)
	}
	if c.BatchSpan <= 0 {
		return fmt.Errorf("batch span must be > 0 (got %d)", c.BatchSpan)
	}
	if uint64(c.BatchCount)*uint64(c.BatchSpan) > math.MaxUint32+1 {
		return fmt.Errorf("id space %d x %d exceeds uint32", c.BatchCount, c.BatchSpan)
	}
	return nil
}

// Harvester runs batches against one fetcher and one sink.
type Harvester struct {
	fetcher Fetcher
	out     sink.Appender
	config  Config
	logger  zerolog.Logger
}

// New creates a harvester. Non-positive MaxConcurrency, FetchTimeout and
// ProgressEvery fall back to defaults.
func New(fetcher Fetcher, out sink.Appender, cfg Config) (*Harvester, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if out == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	defaults := DefaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaults.MaxConcurrency
	}
	if cfg.MaxConcurrency > cfg.BatchCount {
		cfg.MaxConcurrency = cfg.BatchCount
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if cfg.ProgressEvery < 0 {
		cfg.ProgressEvery = 0
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	return &Harvester{
		fetcher: fetcher,
		out:     out,
		config:  cfg,
		logger: log.With().
			Str("component", "harvester").
			Str("run_id", cfg.RunID).
			Logger(),
	}, nil
}

// RunID returns the identifier attached to this harvester's logs.
func (h *Harvester) RunID() string {
	return h.config.RunID
}

// BatchRange returns the half-open ID range [lo, hi) of batch b.
func (h *Harvester) BatchRange(b int) (lo, hi uint64) {
	span := uint64(h.config.BatchSpan)
	lo = uint64(b) * span
	return lo, lo + span
}

// Run fetches every batch and returns once all of them have finished.
// Per-ID failures never fail the run. Cancelling ctx stops workers from
// starting new batches and running batches from requesting further IDs;
// Summary.Cancelled is set only if some work was actually left undone.
func (h *Harvester) Run(ctx context.Context) Summary {
	start := time.Now()
	var c counters

	h.logger.Info().
		Int("batches", h.config.BatchCount).
		Int("batch_span", h.config.BatchSpan).
		Int("max_concurrency", h.config.MaxConcurrency).
		Bool("resume", h.config.Ledger != nil).
		Msg("Starting harvest")

	batchQueue := make(chan int, h.config.BatchCount)
	for b := 0; b < h.config.BatchCount; b++ {
		batchQueue <- b
	}
	close(batchQueue)

	var wg sync.WaitGroup
	for i := 0; i < h.config.MaxConcurrency; i++ {
		wg.Add(1)
		go h.worker(ctx, batchQueue, &c, &wg, i)
	}
	wg.Wait()

	summary := c.snapshot()
	summary.RunID = h.config.RunID
	summary.Duration = time.Since(start)

	event := h.logger.Info()
	if summary.Failures() > 0 || summary.Cancelled {
		event = h.logger.Warn()
	}
	event.EmbedObject(summary).Msg("Harvest complete")

	return summary
}

// worker runs batches from the queue until it is drained or ctx is done.
func (h *Harvester) worker(ctx context.Context, batchQueue <-chan int, c *counters, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	batchesProcessed := 0

	for b := range batchQueue {
		select {
		case <-ctx.Done():
			c.stopped.Store(true)
			h.logger.Debug().
				Int("worker_id", workerID).
				Int("batches_processed", batchesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		h.runBatch(ctx, b, c)
		batchesProcessed++
	}

	h.logger.Debug().
		Int("worker_id", workerID).
		Int("batches_processed", batchesProcessed).
		Msg("Worker completed")
}
