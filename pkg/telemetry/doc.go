// Package telemetry defines the types shared by btscan-agent and btscan-server:
// the typed Value reported for a telemetry path, the Record/PushRequest
// envelope, and the gRPC Telemetry service that carries them.
//
// There is no .proto file. The service is declared by hand (service.go) and
// messages are serialised with a CBOR codec registered under the content
// subtype "cbor" (codec.go), using core deterministic encoding so identical
// batches produce identical bytes. A zstd compressor is registered with
// grpc/encoding under the name "zstd" (compress.go); clients opt in per call.
//
// Path layout used by the agent:
//
//	BTScan.<addr-hex>.lastseen|rssi|addrType|dataLen|data
//	BTScan.stats.stations.count|afterCleanup|removed|added
package telemetry
