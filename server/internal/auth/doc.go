// Package auth provides API key authentication for btscan-server.
//
// APIKeyInterceptor(mode, header, key) guards the gRPC Telemetry service;
// APIKeyMiddleware(mode, header, key) guards the REST API and WebSocket hub.
// When mode != "apikey" or key == "", both pass every request through
// (local development with auth disabled).
package auth
