package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/btscan/btscan/server/internal/alerts"
	"github.com/btscan/btscan/server/internal/history"
	"github.com/btscan/btscan/server/internal/store"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// AlertSource lists current alerts.
type AlertSource interface {
	Active() []alerts.Alert
}

// HistoryReader reads stored records of one station.
type HistoryReader interface {
	Recent(ctx context.Context, address string, limit int) ([]history.Row, error)
}

// Option configures the handler.
type Option func(*Handler)

// WithAlerts serves alerts from src.
func WithAlerts(src AlertSource) Option {
	return func(h *Handler) { h.alerts = src }
}

// WithHistory serves station history from r.
func WithHistory(r HistoryReader) Option {
	return func(h *Handler) { h.history = r }
}

// WithMiddleware wraps every /api/v1 route in mw.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.middleware = append(h.middleware, mw) }
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store      *store.Store
	alerts     AlertSource
	history    HistoryReader
	middleware []func(http.Handler) http.Handler
	router     chi.Router
	now        func() time.Time
}

// New creates a Handler wired to the given station store and registers all routes.
func New(st *store.Store, opts ...Option) *Handler {
	h := &Handler{store: st, now: time.Now}
	for _, o := range opts {
		o(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.middleware...)
		r.Get("/health", h.health)
		r.Get("/stations", h.listStations)
		r.Get("/stations/{addr}", h.getStation)
		r.Get("/stations/{addr}/history", h.stationHistory)
		r.Get("/agents", h.listAgents)
		r.Get("/alerts", h.listAlerts)
		r.Get("/snapshot", h.snapshot)
	})
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// health serves GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		StationCount: len(h.store.List()),
		AgentCount:   len(h.store.Agents()),
	}
	for _, a := range h.activeAlerts() {
		if a.State == alerts.StateFiring {
			resp.AlertCount++
		}
	}
	switch {
	case resp.AgentCount == 0:
		resp.State = "unknown"
	case resp.AlertCount > 0:
		resp.State = "degraded"
	default:
		resp.State = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

// listStations serves GET /api/v1/stations, optionally filtered by ?agent=.
func (h *Handler) listStations(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	entries := h.store.List()
	out := make([]StationResponse, 0, len(entries))
	for _, s := range entries {
		if agent != "" && s.Agent != agent {
			continue
		}
		out = append(out, toStationResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// getStation serves GET /api/v1/stations/{addr}: every live agent view of
// the station.
func (h *Handler) getStation(w http.ResponseWriter, r *http.Request) {
	addr, ok := normalizeAddress(chi.URLParam(r, "addr"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid station address")
		return
	}
	views := h.store.Get(addr)
	if len(views) == 0 {
		writeError(w, http.StatusNotFound, "station not found")
		return
	}
	out := make([]StationResponse, 0, len(views))
	for _, s := range views {
		out = append(out, toStationResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// stationHistory serves GET /api/v1/stations/{addr}/history?limit=N.
func (h *Handler) stationHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}
	addr, ok := normalizeAddress(chi.URLParam(r, "addr"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid station address")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	rows, err := h.history.Recent(r.Context(), addr, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if rows == nil {
		rows = []history.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// listAgents serves GET /api/v1/agents.
func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agentResponses())
}

// listAlerts serves GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.activeAlerts())
}

// snapshot serves GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Snapshot())
}

// Snapshot builds the full JSON dump of live stations, agents and alerts.
func (h *Handler) Snapshot() SnapshotResponse {
	entries := h.store.List()
	stations := make([]StationResponse, 0, len(entries))
	for _, s := range entries {
		stations = append(stations, toStationResponse(s))
	}
	return SnapshotResponse{
		Stations:    stations,
		Agents:      h.agentResponses(),
		Alerts:      h.activeAlerts(),
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
	}
}

func (h *Handler) agentResponses() []AgentResponse {
	now := h.now()
	agents := h.store.Agents()
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, AgentResponse{
			Agent:        a.Agent,
			Prefix:       a.Prefix,
			Count:        a.Count,
			AfterCleanup: a.AfterCleanup,
			Removed:      a.Removed,
			Added:        a.Added,
			Batches:      a.Batches,
			Records:      a.Records,
			LastBatchID:  a.LastBatchID,
			LastPush:     a.UpdatedAt.UTC().Format(time.RFC3339),
			Diagnostics:  computeDiagnostics(a, now, h.store.TTL()),
		})
	}
	return out
}

func (h *Handler) activeAlerts() []alerts.Alert {
	if h.alerts == nil {
		return []alerts.Alert{}
	}
	return h.alerts.Active()
}

// --- helpers ----------------------------------------------------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, Code: code})
}

// normalizeAddress accepts "29db3ccd015a", "29:DB:3C:CD:01:5A" or
// "29-db-3c-cd-01-5a" and returns the 12-digit lowercase form.
func normalizeAddress(s string) (string, bool) {
	s = strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(s))
	return s, store.IsAddress(s)
}

// formatMAC renders a 12-digit hex address as colon-separated uppercase pairs.
func formatMAC(addr string) string {
	if len(addr) != 12 {
		return addr
	}
	up := strings.ToUpper(addr)
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(up[i : i+2])
	}
	return b.String()
}

func addrKind(t int64) string {
	switch t {
	case 0:
		return "public"
	case 1:
		return "private"
	default:
		return "unknown"
	}
}

// toStationResponse maps a store.Station to its JSON representation.
func toStationResponse(s store.Station) StationResponse {
	return StationResponse{
		Agent:     s.Agent,
		Address:   s.Address,
		MAC:       formatMAC(s.Address),
		AddrType:  s.AddrType,
		AddrKind:  addrKind(s.AddrType),
		RSSI:      s.RSSI,
		DataLen:   s.DataLen,
		Data:      s.Data,
		LastSeen:  s.LastSeen.UTC().Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
