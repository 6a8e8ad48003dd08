package api

import "github.com/btscan/btscan/server/internal/alerts"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is "unknown" with no live agents, "degraded" while any alert is
	// firing, and "ok" otherwise.
	State        string `json:"state"`
	StationCount int    `json:"station_count"`
	AgentCount   int    `json:"agent_count"`
	AlertCount   int    `json:"alert_count"`
}

// StationResponse is one agent's view of a station in GET /api/v1/stations
// or GET /api/v1/stations/{addr}.
type StationResponse struct {
	Agent     string `json:"agent"`
	Address   string `json:"address"` // 12 lowercase hex digits, as in record paths
	MAC       string `json:"mac"`     // colon-separated uppercase form
	AddrType  int64  `json:"addr_type"`
	AddrKind  string `json:"addr_kind"` // public | private
	RSSI      int64  `json:"rssi"`
	DataLen   int64  `json:"data_len"`
	Data      string `json:"data"`      // base64
	LastSeen  string `json:"last_seen"` // RFC3339, as reported by the agent
	UpdatedAt string `json:"updated_at"`
}

// AgentResponse is one entry in GET /api/v1/agents.
type AgentResponse struct {
	Agent        string           `json:"agent"`
	Prefix       string           `json:"prefix"`
	Count        int64            `json:"count"`
	AfterCleanup int64            `json:"after_cleanup"`
	Removed      int64            `json:"removed"`
	Added        int64            `json:"added"`
	Batches      int64            `json:"batches"`
	Records      int64            `json:"records"`
	LastBatchID  string           `json:"last_batch_id"`
	LastPush     string           `json:"last_push"` // RFC3339
	Diagnostics  []DiagnosticHint `json:"diagnostics"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the WebSocket
// broadcast.
type SnapshotResponse struct {
	Stations    []StationResponse `json:"stations"`
	Agents      []AgentResponse   `json:"agents"`
	Alerts      []alerts.Alert    `json:"alerts"`
	GeneratedAt string            `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
