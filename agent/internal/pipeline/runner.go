package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/btscan/btscan/agent/internal/metrics"
	"github.com/btscan/btscan/agent/internal/sighting"
	"github.com/btscan/btscan/agent/internal/sink"
	"github.com/btscan/btscan/agent/internal/station"
)

// Drop reasons reported in btscan_sightings_dropped_total.
const (
	DropEmptyPayload = "empty_payload"
	DropCapacity     = "capacity"
)

// Source yields the notification lines of one scan. It returns io.EOF when it
// has nothing more to offer.
type Source interface {
	Scan(ctx context.Context) ([]string, error)
}

// Options are the Runner timings.
type Options struct {
	ScanInterval  time.Duration
	SweepInterval time.Duration
	MaxAge        time.Duration
}

// Runner drives scans and sweeps from a single goroutine.
type Runner struct {
	src     Source
	cache   *station.Cache
	sink    sink.Sink
	metrics *metrics.Metrics
	opts    Options
	maxAge  atomic.Int64
	now     func() time.Time // injectable for tests
}

// New returns a Runner. m may be nil.
func New(src Source, cache *station.Cache, snk sink.Sink, m *metrics.Metrics, opts Options) *Runner {
	r := &Runner{
		src:     src,
		cache:   cache,
		sink:    snk,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
	r.maxAge.Store(int64(opts.MaxAge))
	return r
}

// SetMaxAge changes the max age used by the following sweeps.
func (r *Runner) SetMaxAge(d time.Duration) {
	r.maxAge.Store(int64(d))
}

// MaxAge returns the current max age.
func (r *Runner) MaxAge() time.Duration {
	return time.Duration(r.maxAge.Load())
}

// Run scans immediately and then on every scan tick, and sweeps on every
// sweep tick, until ctx is cancelled or the source is exhausted. An exhausted
// source gets one final sweep. The cache is shut down on return.
func (r *Runner) Run(ctx context.Context) error {
	defer r.cache.Shutdown()

	scanT := time.NewTicker(r.opts.ScanInterval)
	defer scanT.Stop()
	sweepT := time.NewTicker(r.opts.SweepInterval)
	defer sweepT.Stop()

	slog.Info("pipeline: running",
		"scan_interval", r.opts.ScanInterval,
		"sweep_interval", r.opts.SweepInterval,
		"max_age", r.MaxAge())

	if done := r.scan(ctx); done {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-scanT.C:
			if done := r.scan(ctx); done {
				return nil
			}
		case <-sweepT.C:
			r.SweepOnce(ctx)
		}
	}
}

// scan runs one scan and reports whether the source is exhausted, in which
// case it has already run the final sweep.
func (r *Runner) scan(ctx context.Context) bool {
	_, err := r.ScanOnce(ctx)
	if errors.Is(err, io.EOF) {
		slog.Info("pipeline: source exhausted, final sweep")
		r.SweepOnce(ctx)
		return true
	}
	return false
}

// ScanOnce runs one scan and feeds its sightings into the cache. It returns
// the number of sightings cached.
func (r *Runner) ScanOnce(ctx context.Context) (int, error) {
	lines, err := r.src.Scan(ctx)
	if err != nil {
		if !errors.Is(err, io.EOF) && ctx.Err() == nil {
			slog.Warn("pipeline: scan failed", "err", err)
			if r.metrics != nil {
				r.metrics.ScanFailures.Inc()
			}
		}
		return 0, err
	}
	return r.Ingest(lines), nil
}

// Ingest parses lines and updates the cache, returning the number of
// sightings cached.
func (r *Runner) Ingest(lines []string) int {
	now := r.now()
	cached := 0
	for _, line := range lines {
		if r.metrics != nil {
			r.metrics.Lines.Inc()
		}
		s, err := sighting.Parse(line)
		if err != nil {
			slog.Debug("pipeline: dropping line", "err", err)
			if r.metrics != nil {
				r.metrics.ParseErrors.WithLabelValues(sighting.KindOf(err).String()).Inc()
			}
			continue
		}
		if s.Payload.Len() == 0 {
			r.drop(DropEmptyPayload)
			continue
		}
		if err := r.cache.Update(s, now); err != nil {
			slog.Warn("pipeline: sighting not cached", "err", err)
			if errors.Is(err, station.ErrCapacityExhausted) {
				r.drop(DropCapacity)
			}
			continue
		}
		cached++
	}
	return cached
}

func (r *Runner) drop(reason string) {
	if r.metrics != nil {
		r.metrics.Dropped.WithLabelValues(reason).Inc()
	}
}

// SweepOnce ages the cache and reports to the sink.
func (r *Runner) SweepOnce(ctx context.Context) (station.SweepStats, error) {
	start := time.Now()
	st, err := r.cache.Sweep(ctx, r.now(), r.MaxAge(), r.sink)
	if r.metrics != nil {
		r.metrics.Sweeps.Inc()
		r.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		r.metrics.StationsRemoved.Add(float64(st.Removed))
		r.metrics.Stations.Set(float64(st.AfterCleanup))
		if err != nil && !errors.Is(err, station.ErrClosed) {
			r.metrics.FlushFailures.Inc()
		}
	}
	if err != nil {
		slog.Warn("pipeline: sweep", "err", err,
			"survivors", st.Survivors, "removed", st.Removed)
		return st, err
	}
	slog.Info("pipeline: sweep",
		"total", st.Total,
		"survivors", st.Survivors,
		"removed", st.Removed,
		"added", st.Added)
	return st, nil
}
