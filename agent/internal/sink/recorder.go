package sink

import (
	"context"
	"sync"

	"github.com/btscan/btscan/pkg/telemetry"
)

// Recorder is an in-memory Sink that keeps every successfully flushed batch.
// It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	pending []telemetry.Record
	batches [][]telemetry.Record
	err     error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(path string, v telemetry.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, telemetry.Record{Path: path, Value: v})
}

// Flush moves the pending records into a new batch. When an error has been
// set with FailWith, the pending records are discarded and that error is
// returned instead.
func (r *Recorder) Flush(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.pending
	r.pending = nil
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, pending)
	return nil
}

// FailWith makes subsequent flushes fail with err; nil restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Batches returns every flushed batch, oldest first.
func (r *Recorder) Batches() [][]telemetry.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]telemetry.Record, len(r.batches))
	copy(out, r.batches)
	return out
}

// Last returns the most recently flushed batch, or nil.
func (r *Recorder) Last() []telemetry.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return nil
	}
	return r.batches[len(r.batches)-1]
}

// Lookup returns the value recorded for path in batch.
func Lookup(batch []telemetry.Record, path string) (telemetry.Value, bool) {
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].Path == path {
			return batch[i].Value, true
		}
	}
	return telemetry.Value{}, false
}
