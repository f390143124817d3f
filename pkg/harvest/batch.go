package harvest

import (
	"context"
	"time"

	"github.com/Sternrassler/souyun-harvester/pkg/client"
	"github.com/Sternrassler/souyun-harvester/pkg/poem"
)

// runBatch walks batch b's IDs in increasing order, one request at a time.
func (h *Harvester) runBatch(ctx context.Context, b int, c *counters) {
	start := time.Now()
	harvestBatchesActive.Inc()
	defer harvestBatchesActive.Dec()

	lo, hi := h.BatchRange(b)
	logger := h.logger.With().Int("batch", b).Logger()
	logger.Info().
		Uint64("first_id", lo).
		Uint64("last_id", hi-1).
		Msg("Fetching batch")

	completed := h.completedIn(b, lo, hi)

	var attempted, written int
	for offset := 0; offset < h.config.BatchSpan; offset++ {
		if ctx.Err() != nil {
			c.stopped.Store(true)
			logger.Warn().
				Int("offset", offset).
				Msg("Batch stopped (context cancelled)")
			return
		}

		id := uint32(lo + uint64(offset))
		if id == 0 {
			continue
		}
		if _, done := completed[id]; done {
			c.skipped.Add(1)
			harvestIDsSkipped.Inc()
			continue
		}

		attempted++
		if h.harvestID(ctx, b, id, c) {
			written++
		}

		if h.config.ProgressEvery > 0 && (offset+1)%h.config.ProgressEvery == 0 {
			logger.Info().
				Int("offset", offset+1).
				Int("attempted", attempted).
				Int("written", written).
				Float64("progress_pct", float64(offset+1)/float64(h.config.BatchSpan)*100).
				Msg("Batch progress")
		}
	}

	c.batches.Add(1)
	harvestBatchDuration.Observe(time.Since(start).Seconds())
	logger.Info().
		Int("attempted", attempted).
		Int("written", written).
		Dur("duration", time.Since(start)).
		Msg("Batch complete")
}

// harvestID fetches one poem and appends it to the sink.
// It reports whether a line was written; every failure is logged and absorbed.
func (h *Harvester) harvestID(ctx context.Context, b int, id uint32, c *counters) bool {
	c.attempted.Add(1)
	harvestIDsAttempted.Inc()

	fetchCtx, cancel := context.WithTimeout(ctx, h.config.FetchTimeout)
	env, err := h.fetcher.FetchPoem(fetchCtx, id)
	cancel()
	if err != nil {
		class := string(client.ClassOf(err))
		if class == "" {
			class = "unknown"
		}
		c.fetchFailures.Add(1)
		harvestFetchFailures.WithLabelValues(class).Inc()
		h.logger.Warn().
			Err(err).
			Int("batch", b).
			Uint32("id", id).
			Str("error_class", class).
			Msg("Error fetching poem")
		return false
	}
	c.fetched.Add(1)

	line, err := poem.EncodeLine(env)
	if err != nil {
		c.writeFailures.Add(1)
		harvestWriteFailures.Inc()
		h.logger.Error().
			Err(err).
			Int("batch", b).
			Uint32("id", id).
			Msg("Couldn't encode poem")
		return false
	}

	if err := h.out.Append(line); err != nil {
		c.writeFailures.Add(1)
		harvestWriteFailures.Inc()
		h.logger.Error().
			Err(err).
			Int("batch", b).
			Uint32("id", id).
			Msg("Couldn't write to file")
		return false
	}
	c.written.Add(1)
	harvestRecordsWritten.Inc()
	h.logger.Debug().
		Int("batch", b).
		Uint32("id", id).
		Uints32("poem_ids", env.IDs()).
		Msg("Poem written")

	if h.config.Ledger != nil {
		if err := h.config.Ledger.Mark(id); err != nil {
			h.logger.Warn().
				Err(err).
				Uint32("id", id).
				Msg("Failed to record id in ledger")
		}
	}

	return true
}

// completedIn loads the IDs of [lo, hi) already in the ledger.
// A ledger read error is logged and treated as an empty set.
func (h *Harvester) completedIn(b int, lo, hi uint64) map[uint32]struct{} {
	if h.config.Ledger == nil {
		return nil
	}

	ids, err := h.config.Ledger.CompletedIn(uint32(lo), uint32(min(hi, uint64(^uint32(0)))))
	if err != nil {
		h.logger.Warn().
			Err(err).
			Int("batch", b).
			Msg("Failed to read ledger; fetching whole batch")
		return nil
	}

	completed := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		completed[id] = struct{}{}
	}
	if len(completed) > 0 {
		h.logger.Debug().
			Int("batch", b).
			Int("completed", len(completed)).
			Msg("Skipping IDs already in ledger")
	}
	return completed
}
