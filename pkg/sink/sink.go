// Package sink provides the shared append-only output file that all batch
// fetchers write harvested lines to.
package sink

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("sink closed")

var (
	sinkBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_sink_bytes_written_total",
		Help: "Total bytes appended to the output file",
	})

	sinkLockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_sink_lock_wait_seconds",
		Help:    "Time spent waiting for the output file lock",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	})
)

// Appender is the only operation fetchers need from the sink.
// Implementations must serialize concurrent calls so that the bytes of one
// call are never interleaved with another's.
type Appender interface {
	Append(line []byte) error
}

// writer is the subset of *os.File used by File.
type writer interface {
	Write(p []byte) (int, error)
	Close() error
}

// File is an Appender backed by a single file handle guarded by a mutex.
type File struct {
	mu     sync.Mutex
	w      writer
	path   string
	closed bool
}

// Open opens path for appending, creating it if needed.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &File{w: f, path: path}, nil
}

// Path returns the file path the sink appends to.
func (f *File) Path() string {
	return f.path
}

// Append writes line to the file while holding the lock.
// The caller supplies the line terminator.
func (f *File) Append(line []byte) error {
	start := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	sinkLockWaitSeconds.Observe(time.Since(start).Seconds())

	if f.closed {
		return ErrClosed
	}

	n, err := f.w.Write(line)
	sinkBytesWritten.Add(float64(n))
	if err != nil {
		if n > 0 && n < len(line) && line[len(line)-1] == '\n' {
			f.terminate()
		}
		return fmt.Errorf("append %d bytes to %s (wrote %d): %w", len(line), f.path, n, err)
	}
	return nil
}

// terminate ends a partially written line so the next append starts on a
// fresh line. Only the torn record is lost; if this write fails too, the
// next line is joined onto it.
func (f *File) terminate() {
	m, _ := f.w.Write([]byte{'\n'})
	sinkBytesWritten.Add(float64(m))
}

// Close closes the underlying file. Further calls are no-ops.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	return f.w.Close()
}
