// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort          port for the gRPC receiver (default 50051)
//   - HTTPPort          port for the REST API and WebSocket hub (default 8080)
//   - Auth.Mode         "apikey" or "none"; "mtls" accepted
//   - Auth.KeyEnv       environment variable holding the expected API key
//   - Auth.Header       gRPC metadata/HTTP header name (default "x-api-key")
//   - Stations.TTL      how long a station stays live without records (default 5m)
//   - History.DSNEnv    environment variable holding the Postgres DSN
//   - History.BatchSize rows per INSERT (default 500)
//   - BroadcastInterval WebSocket snapshot period (default 5s)
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
