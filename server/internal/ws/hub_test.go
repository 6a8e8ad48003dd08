package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/btscan/btscan/pkg/telemetry"
	"github.com/btscan/btscan/server/internal/api"
	"github.com/btscan/btscan/server/internal/store"
	wsHub "github.com/btscan/btscan/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

func apply(st *store.Store, agent string, addrs ...string) {
	var recs []telemetry.Record
	for _, a := range addrs {
		recs = append(recs, telemetry.Record{Path: "BTScan." + a + ".rssi", Value: telemetry.Int(-60)})
	}
	st.Apply(agent, "b", recs)
}

// startHub starts a test HTTP server with the hub as its handler and runs
// the broadcast loop until the returned cancel is called.
func startHub(t *testing.T, st *store.Store) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(api.New(st), testInterval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(hub)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, cancelFn
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads and decodes one message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) wsHub.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m wsHub.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

// waitCount polls hub.Count until it equals want or a second passes.
func waitCount(t *testing.T, hub *wsHub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Count: got %d, want %d", hub.Count(), want)
}

// --- tests ------------------------------------------------------------------

func TestHub_ImmediateSnapshot(t *testing.T) {
	st := store.New(5 * time.Minute)
	apply(st, "gw-01", "29db3ccd015a", "000000000001")
	wsURL, _, _ := startHub(t, st)

	m := readMessage(t, dial(t, wsURL))
	if m.Event != wsHub.EventSnapshot {
		t.Errorf("event: got %q, want snapshot", m.Event)
	}
	if len(m.Data.Stations) != 2 || len(m.Data.Agents) != 1 {
		t.Errorf("data: %d stations, %d agents", len(m.Data.Stations), len(m.Data.Agents))
	}
	if m.Data.GeneratedAt == "" {
		t.Error("generated_at: missing")
	}
}

func TestHub_EmptyStore(t *testing.T) {
	wsURL, _, _ := startHub(t, store.New(time.Minute))
	m := readMessage(t, dial(t, wsURL))
	if m.Data.Stations == nil || len(m.Data.Stations) != 0 {
		t.Errorf("stations: got %v, want empty array", m.Data.Stations)
	}
}

func TestHub_CountClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, store.New(time.Minute))

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
		readMessage(t, conns[i])
	}
	waitCount(t, hub, 3)

	conns[0].Close()
	waitCount(t, hub, 2)
}

func TestHub_BroadcastOnTick(t *testing.T) {
	st := store.New(5 * time.Minute)
	wsURL, _, _ := startHub(t, st)

	conn := dial(t, wsURL)
	readMessage(t, conn) // immediate snapshot of the empty store

	apply(st, "gw-01", "29db3ccd015a")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m := readMessage(t, conn)
		if len(m.Data.Stations) == 1 {
			if got := m.Data.Stations[0].MAC; got != "29:DB:3C:CD:01:5A" {
				t.Errorf("mac: got %q", got)
			}
			return
		}
	}
	t.Fatal("no broadcast carried the new station")
}

func TestHub_CancelClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, store.New(time.Minute))

	conn := dial(t, wsURL)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	cancel()
	waitCount(t, hub, 0)
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(api.New(store.New(time.Minute)), testInterval)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
