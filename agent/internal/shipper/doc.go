// Package shipper sends flushed telemetry batches to btscan-server via gRPC
// (Telemetry/Push unary RPC, CBOR-encoded, optionally zstd-compressed).
//
// Shipper implements sink.Sink. Record appends to an in-memory batch; Flush
// wraps the batch in a PushRequest with a fresh uuid batch ID and sends it.
// A failed push drops the batch and opens a backoff window (truncated
// exponential, 1s→60s, ±25% jitter) during which Flush returns ErrBackingOff
// without dialling. Permanent gRPC errors (Unauthenticated, PermissionDenied,
// InvalidArgument) are logged as such.
//
// Auth: mTLS via credentials.NewTLS(), API key via gRPC metadata header,
// or insecure (plaintext) for local development.
//
// The dialFn and now fields are injectable for testing.
package shipper
