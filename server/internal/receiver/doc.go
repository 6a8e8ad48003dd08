// Package receiver implements telemetry.TelemetryServer, the gRPC endpoint
// that accepts record batches from btscan-agent instances.
//
// Receiver.Push rejects batches with an empty agent name or no records
// (codes.InvalidArgument), applies the rest to the station store, then hands
// them to the optional history writer and alert evaluator. History failures
// are logged and never fail the push, so an agent does not retry a batch the
// store already holds. Authentication is enforced upstream by the gRPC server
// interceptor (see package auth).
package receiver
