// Package api implements the HTTP REST API for btscan-server.
//
// New(store, opts...) returns a chi-routed http.Handler that serves:
//
//	GET /api/v1/health                  overall state, station/agent/alert counts
//	GET /api/v1/stations                all live stations, one entry per agent view
//	GET /api/v1/stations/{addr}         one station; 400 if malformed, 404 if unknown or stale
//	GET /api/v1/stations/{addr}/history stored records, newest first (503 without history)
//	GET /api/v1/agents                  per-agent sweep counters with diagnostics
//	GET /api/v1/alerts                  firing and recently resolved alerts
//	GET /api/v1/snapshot                stations + agents + alerts + generated_at
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods.
package api
