package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/btscan/btscan/pkg/telemetry"
)

// Station is the server's view of one station as reported by one agent.
type Station struct {
	Agent   string
	Prefix  string
	Address string // 12 lowercase hex digits

	LastSeen time.Time // as reported by the agent
	RSSI     int64
	AddrType int64
	DataLen  int64
	Data     string // base64 advertisement payload

	// UpdatedAt is when the server last received a record for this station.
	UpdatedAt time.Time
}

// AgentStats are the sweep counters and push bookkeeping of one agent.
type AgentStats struct {
	Agent        string
	Prefix       string
	Count        int64
	AfterCleanup int64
	Removed      int64
	Added        int64

	Batches     int64
	Records     int64
	LastBatchID string
	UpdatedAt   time.Time
}

type stationKey struct {
	agent, address string
}

// Store is a thread-safe in-memory station store keyed by agent and address.
// A background goroutine (Run) periodically evicts entries that have not
// been updated within the configured TTL.
type Store struct {
	mu       sync.RWMutex
	stations map[stationKey]*Station
	agents   map[string]*AgentStats
	ttl      time.Duration
	now      func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		stations: make(map[stationKey]*Station),
		agents:   make(map[string]*AgentStats),
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL returns the configured time-to-live duration.
func (s *Store) TTL() time.Duration { return s.ttl }

// Apply folds the records of one batch from agent into the store and returns
// how many records were recognised.
func (s *Store) Apply(agent, batchID string, records []telemetry.Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	as := s.agentFor(agent)
	as.Batches++
	as.Records += int64(len(records))
	as.LastBatchID = batchID
	as.UpdatedAt = now

	applied := 0
	for _, r := range records {
		parts := strings.SplitN(r.Path, ".", 3)
		if len(parts) != 3 {
			continue
		}
		prefix, seg, field := parts[0], parts[1], parts[2]

		switch {
		case seg == "stats":
			if applyStat(as, field, r.Value) {
				as.Prefix = prefix
				applied++
			}
		case IsAddress(seg):
			st := s.stationFor(agent, prefix, seg)
			if applyField(st, field, r.Value) {
				st.UpdatedAt = now
				applied++
			}
		}
	}
	return applied
}

func (s *Store) agentFor(agent string) *AgentStats {
	as, ok := s.agents[agent]
	if !ok {
		as = &AgentStats{Agent: agent}
		s.agents[agent] = as
	}
	return as
}

func (s *Store) stationFor(agent, prefix, addr string) *Station {
	k := stationKey{agent, addr}
	st, ok := s.stations[k]
	if !ok {
		st = &Station{Agent: agent, Prefix: prefix, Address: addr}
		s.stations[k] = st
	}
	return st
}

func applyStat(as *AgentStats, field string, v telemetry.Value) bool {
	if v.Kind != telemetry.KindInt {
		return false
	}
	switch field {
	case "stations.count":
		as.Count = v.Int
	case "stations.afterCleanup":
		as.AfterCleanup = v.Int
	case "stations.removed":
		as.Removed = v.Int
	case "stations.added":
		as.Added = v.Int
	default:
		return false
	}
	return true
}

func applyField(st *Station, field string, v telemetry.Value) bool {
	if field == "data" {
		if v.Kind != telemetry.KindString {
			return false
		}
		st.Data = v.Str
		return true
	}
	if v.Kind != telemetry.KindInt {
		return false
	}
	switch field {
	case "lastseen":
		st.LastSeen = time.Unix(v.Int, 0)
	case "rssi":
		st.RSSI = v.Int
	case "addrType":
		st.AddrType = v.Int
	case "dataLen":
		st.DataLen = v.Int
	default:
		return false
	}
	return true
}

// IsAddress reports whether s is a 12-digit lowercase hex station address.
func IsAddress(s string) bool {
	if len(s) != 12 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// List returns copies of all stations updated within the TTL, ordered by
// address and then agent.
func (s *Store) List() []Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]Station, 0, len(s.stations))
	for _, st := range s.stations {
		if st.UpdatedAt.After(cutoff) {
			out = append(out, *st)
		}
	}
	sortStations(out)
	return out
}

// Get returns every live view of the station at addr, one per agent.
func (s *Store) Get(addr string) []Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	var out []Station
	for k, st := range s.stations {
		if k.address == addr && st.UpdatedAt.After(cutoff) {
			out = append(out, *st)
		}
	}
	sortStations(out)
	return out
}

func sortStations(ss []Station) {
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].Address != ss[j].Address {
			return ss[i].Address < ss[j].Address
		}
		return ss[i].Agent < ss[j].Agent
	})
}

// Agents returns copies of the stats of every agent that pushed within the
// TTL, ordered by name.
func (s *Store) Agents() []AgentStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]AgentStats, 0, len(s.agents))
	for _, as := range s.agents {
		if as.UpdatedAt.After(cutoff) {
			out = append(out, *as)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// Agent returns a copy of the stats of one agent.
func (s *Store) Agent(name string) (AgentStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	as, ok := s.agents[name]
	if !ok {
		return AgentStats{}, false
	}
	return *as, true
}

// Count returns the total number of stations currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stations)
}

// Evict removes stations and agents whose UpdatedAt is older than now minus
// TTL. It returns the number of stations removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for k, st := range s.stations {
		if !st.UpdatedAt.After(cutoff) {
			delete(s.stations, k)
			removed++
		}
	}
	for name, as := range s.agents {
		if !as.UpdatedAt.After(cutoff) {
			delete(s.agents, name)
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL interval
// (minimum 1 second) so entries are evicted promptly. Run blocks until ctx is
// cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale stations", "count", n)
			}
		}
	}
}
