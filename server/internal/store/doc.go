// Package store keeps the live station inventory reported by btscan agents.
//
// Apply folds one pushed batch into the store. Record paths are interpreted
// as "<prefix>.<address hex>.<field>" for station facts and
// "<prefix>.stats.stations.<field>" for the agent's sweep counters; other
// paths are ignored. Stations are keyed by agent and address, so two agents
// seeing the same device keep separate entries.
//
// Entries not refreshed within the TTL are excluded from List and removed by
// the Run eviction loop.
package store
