package sink

import (
	"context"
	"errors"

	"github.com/btscan/btscan/pkg/telemetry"
)

// Sink receives typed key/value facts and commits them on Flush.
type Sink interface {
	// Record buffers v under the dot-separated path. It never blocks on I/O.
	Record(path string, v telemetry.Value)

	// Flush transmits every record buffered since the previous Flush.
	Flush(ctx context.Context) error
}

// Multi returns a Sink that forwards every call to each of sinks.
// Flush flushes all of them and joins their errors.
func Multi(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return multi(sinks)
}

type multi []Sink

func (m multi) Record(path string, v telemetry.Value) {
	for _, s := range m {
		s.Record(path, v)
	}
}

func (m multi) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
