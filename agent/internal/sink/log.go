package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/btscan/btscan/pkg/telemetry"
)

// Log is a Sink that writes each flushed batch to a slog.Logger: one debug
// line per record and one info line per flush.
type Log struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []telemetry.Record
}

// NewLog returns a Log sink writing to logger, or slog.Default() if nil.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Record(path string, v telemetry.Value) {
	l.mu.Lock()
	l.pending = append(l.pending, telemetry.Record{Path: path, Value: v})
	l.mu.Unlock()
}

func (l *Log) Flush(ctx context.Context) error {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, r := range batch {
		l.logger.DebugContext(ctx, "sink: record", "path", r.Path, "value", r.Value.String())
	}
	l.logger.InfoContext(ctx, "sink: flush", "records", len(batch))
	return nil
}
