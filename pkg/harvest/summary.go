package harvest

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Summary reports what a run did.
type Summary struct {
	RunID         string
	Batches       int64
	Attempted     int64
	Fetched       int64
	Written       int64
	FetchFailures int64
	WriteFailures int64
	Skipped       int64
	Duration      time.Duration
	Cancelled     bool
}

// Failures returns the number of IDs that produced no line.
func (s Summary) Failures() int64 {
	return s.FetchFailures + s.WriteFailures
}

// MarshalZerologObject lets a Summary be logged with Object or EmbedObject.
// RunID is left out; the harvester logger already carries run_id.
func (s Summary) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("batches", s.Batches).
		Int64("attempted", s.Attempted).
		Int64("fetched", s.Fetched).
		Int64("written", s.Written).
		Int64("fetch_failures", s.FetchFailures).
		Int64("write_failures", s.WriteFailures).
		Int64("skipped", s.Skipped).
		Dur("duration", s.Duration).
		Bool("cancelled", s.Cancelled)
}

// counters are shared by all batches of one run.
type counters struct {
	batches       atomic.Int64
	attempted     atomic.Int64
	fetched       atomic.Int64
	written       atomic.Int64
	fetchFailures atomic.Int64
	writeFailures atomic.Int64
	skipped       atomic.Int64

	// stopped is set when a worker or batch gives up on remaining work.
	stopped atomic.Bool
}

func (c *counters) snapshot() Summary {
	return Summary{
		Batches:       c.batches.Load(),
		Attempted:     c.attempted.Load(),
		Fetched:       c.fetched.Load(),
		Written:       c.written.Load(),
		FetchFailures: c.fetchFailures.Load(),
		WriteFailures: c.writeFailures.Load(),
		Skipped:       c.skipped.Load(),
		Cancelled:     c.stopped.Load(),
	}
}
