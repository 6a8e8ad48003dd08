// Package station keeps the inventory of BLE stations seen by the radio.
//
// A Cache holds one Entry per device address. Update folds a parsed sighting
// into its entry, refreshing RSSI and last-seen time and marking the entry
// dirty when the advertisement changed. Sweep ages out stations not seen
// within max_age, reports the survivors and the aggregate counters to a
// sink.Sink, and flushes it. Each entry remembers the advertisement the sink
// last accepted; a survivor is reported with its advertisement fields while
// it is dirty or differs from that one. Dirty flags are cleared only once the
// flush succeeds, so a changed payload is re-reported after a delivery
// failure even if later sightings repeat it unchanged.
//
// Update and Sweep take the current time as an argument; the cache never reads
// the wall clock itself.
package station
