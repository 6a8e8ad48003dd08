package station

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btscan/btscan/agent/internal/address"
	"github.com/btscan/btscan/agent/internal/sighting"
	"github.com/btscan/btscan/agent/internal/sink"
	"github.com/btscan/btscan/pkg/telemetry"
)

const (
	// DefaultPrefix is the telemetry root every path is reported under.
	DefaultPrefix = "BTScan"

	// DefaultCapacity bounds the number of stations tracked at once.
	DefaultCapacity = 1024
)

var (
	// ErrCapacityExhausted is returned by Update when a new station would
	// exceed the cache capacity. The sighting is dropped; the cache is intact.
	ErrCapacityExhausted = errors.New("station: capacity exhausted")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("station: cache closed")
)

// Entry is the cached state of one station.
type Entry struct {
	Address  uint64
	LastSeen time.Time
	// Dirty is set when the advertisement differs from the previous sighting
	// and cleared by a successful sweep report or by an unchanged sighting.
	Dirty  bool
	Latest sighting.Sighting

	// reported is the sighting whose advertisement the sink last accepted.
	reported    sighting.Sighting
	hasReported bool
}

// Pending reports whether the next sweep carries the advertisement fields:
// the entry is dirty, or its advertisement differs from the one last
// delivered to the sink.
func (e Entry) Pending() bool {
	return e.Dirty || !e.hasReported || !e.reported.Equal(e.Latest)
}

// SweepStats are the counters of one Sweep.
type SweepStats struct {
	Total        int // entries before aging
	Survivors    int
	Removed      int
	AfterCleanup int // Total - Removed
	// Added is AfterCleanup minus the previous sweep's AfterCleanup, floored
	// at zero. Arrivals and departures in the same interval cancel out.
	Added int
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity bounds the number of entries. n <= 0 means unbounded.
func WithCapacity(n int) Option {
	return func(c *Cache) { c.capacity = n }
}

// WithPrefix sets the telemetry root used by Sweep.
func WithPrefix(p string) Option {
	return func(c *Cache) {
		if p != "" {
			c.prefix = p
		}
	}
}

// Cache is the station inventory. All methods are safe for concurrent use;
// Update and Sweep are serialised by one mutex.
type Cache struct {
	mu           sync.Mutex
	entries      map[uint64]*Entry
	capacity     int
	prefix       string
	lastSurvivor int
	closed       bool
}

// New returns an empty Cache with DefaultCapacity and DefaultPrefix unless
// overridden by opts.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[uint64]*Entry),
		capacity: DefaultCapacity,
		prefix:   DefaultPrefix,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Update folds s into the cache at time now.
//
// A new address is inserted dirty. For a known address the last-seen time and
// RSSI are always refreshed; the entry then becomes dirty if s differs from the
// cached sighting (address kind or payload) and clean otherwise.
func (c *Cache) Update(s sighting.Sighting, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	e, ok := c.entries[s.Address]
	if !ok {
		if c.capacity > 0 && len(c.entries) >= c.capacity {
			return fmt.Errorf("%w: %d stations, dropping %s",
				ErrCapacityExhausted, len(c.entries), address.Format(s.Address))
		}
		c.entries[s.Address] = &Entry{
			Address:  s.Address,
			LastSeen: now,
			Dirty:    true,
			Latest:   s,
		}
		return nil
	}

	e.LastSeen = now
	e.Latest.RSSI = s.RSSI
	if e.Latest.Equal(s) {
		e.Dirty = false
		return nil
	}
	e.Latest = s
	e.Dirty = true
	return nil
}

// Sweep removes every entry whose age exceeds maxAge, reports the survivors
// and the aggregate counters to snk, and flushes it once.
//
// Survivors always report lastseen (unix seconds) and rssi; dirty survivors
// also report addrType, dataLen and data (base64), as does any survivor whose
// advertisement was never delivered. Dirty flags are cleared and the
// advertisement marked delivered only when the flush succeeds. A flush error
// is returned wrapped together with the stats of the pass, which are complete
// either way.
//
// The cache lock is held across the flush, so Update waits for it.
func (c *Cache) Sweep(ctx context.Context, now time.Time, maxAge time.Duration, snk sink.Sink) (SweepStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var st SweepStats
	if c.closed {
		return st, ErrClosed
	}

	st.Total = len(c.entries)

	addrs := make([]uint64, 0, len(c.entries))
	for a := range c.entries {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var reported []*Entry
	for _, a := range addrs {
		e := c.entries[a]
		if now.Sub(e.LastSeen) > maxAge {
			delete(c.entries, a)
			st.Removed++
			continue
		}
		st.Survivors++

		base := c.prefix + "." + address.Hex(a) + "."
		snk.Record(base+"lastseen", telemetry.Int(e.LastSeen.Unix()))
		snk.Record(base+"rssi", telemetry.Int(int64(e.Latest.RSSI)))
		if e.Pending() {
			snk.Record(base+"addrType", telemetry.Int(int64(e.Latest.Kind)))
			snk.Record(base+"dataLen", telemetry.Int(int64(e.Latest.Payload.Len())))
			snk.Record(base+"data", telemetry.String(e.Latest.Payload.Base64()))
			reported = append(reported, e)
		}
	}

	st.AfterCleanup = st.Total - st.Removed
	if d := st.AfterCleanup - c.lastSurvivor; d > 0 {
		st.Added = d
	}
	c.lastSurvivor = st.AfterCleanup

	stats := c.prefix + ".stats.stations."
	snk.Record(stats+"count", telemetry.Int(int64(st.Total)))
	snk.Record(stats+"afterCleanup", telemetry.Int(int64(st.AfterCleanup)))
	snk.Record(stats+"removed", telemetry.Int(int64(st.Removed)))
	snk.Record(stats+"added", telemetry.Int(int64(st.Added)))

	if err := snk.Flush(ctx); err != nil {
		return st, fmt.Errorf("station: sweep flush: %w", err)
	}
	for _, e := range reported {
		e.Dirty = false
		e.reported = e.Latest
		e.hasReported = true
	}
	return st, nil
}

// Shutdown drops every entry. Later calls to Update and Sweep return
// ErrClosed. Nothing is reported.
func (c *Cache) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*Entry)
	c.lastSurvivor = 0
	c.closed = true
}

// Len returns the number of cached stations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get returns a copy of the entry for addr.
func (c *Cache) Get(addr uint64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Prefix returns the telemetry root.
func (c *Cache) Prefix() string { return c.prefix }
