// Package sink defines the telemetry destination the station cache reports to.
//
// A Sink buffers Record calls and commits them on Flush. Flush failures are
// recoverable: the caller keeps its own change state and reports again on the
// next sweep, so a Sink never retries in place.
//
// Implementations:
//   - Recorder: in-memory, keeps every flushed batch; used by tests and --dump
//   - Log     : writes each flushed batch through slog
//   - Textfile: renders the latest value of every path as a Prometheus
//     textfile-collector exposition (expfmt), replaced atomically on Flush
//   - Multi   : fans out to several sinks
//
// The gRPC implementation lives in package shipper.
package sink
