package alerts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btscan/btscan/server/internal/config"
	"github.com/btscan/btscan/server/internal/store"
)

// newTestEngine returns an engine with a controllable clock that records
// deliveries synchronously.
func newTestEngine(t *testing.T, rules ...config.AlertRule) (*Engine, *time.Time, *[]Alert) {
	t.Helper()
	e := New(config.AlertsConfig{Rules: rules})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	var sent []Alert
	e.send = func(a *Alert) { sent = append(sent, *a) }
	return e, &now, &sent
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		cond    string
		wantErr bool
	}{
		{"count > 500", false},
		{"after_cleanup == 0", false},
		{"removed >= 20", false},
		{"added != 3", false},
		{"records < 1e4", false},
		{"count >", true},
		{"rssi > 3", true},
		{"count ~ 3", true},
		{"count > many", true},
	}
	for _, tt := range tests {
		_, err := parseCondition(tt.cond)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCondition(%q) err = %v, wantErr %v", tt.cond, err, tt.wantErr)
		}
	}
}

func TestValidate(t *testing.T) {
	good := config.AlertsConfig{Rules: []config.AlertRule{{Name: "a", Condition: "count > 1"}}}
	if err := Validate(good); err != nil {
		t.Errorf("Validate(good): %v", err)
	}
	bad := config.AlertsConfig{Rules: []config.AlertRule{{Name: "b", Condition: "state == critical"}}}
	if err := Validate(bad); err == nil {
		t.Error("Validate(bad): expected error, got nil")
	}
}

func TestEvaluate_FireAndResolve(t *testing.T) {
	e, now, sent := newTestEngine(t, config.AlertRule{Name: "churn", Condition: "removed > 10"})

	e.Evaluate(store.AgentStats{Agent: "gw-01", Removed: 25})
	active := e.Active()
	if len(active) != 1 {
		t.Fatalf("Active: got %d alerts, want 1", len(active))
	}
	a := active[0]
	if a.State != StateFiring || a.Agent != "gw-01" || a.Value != 25 || a.Severity != "warning" {
		t.Errorf("alert: got %+v", a)
	}
	if a.ID == "" {
		t.Error("alert ID is empty")
	}

	*now = now.Add(time.Minute)
	e.Evaluate(store.AgentStats{Agent: "gw-01", Removed: 2})
	active = e.Active()
	if len(active) != 1 || active[0].State != StateResolved || active[0].ResolvedAt == nil {
		t.Fatalf("Active after resolve: got %+v", active)
	}
	if len(*sent) != 2 {
		t.Errorf("deliveries: got %d, want 2 (fire + resolve)", len(*sent))
	}
}

func TestEvaluate_NoRefireWhileActive(t *testing.T) {
	e, now, sent := newTestEngine(t, config.AlertRule{Name: "big", Condition: "count > 100"})
	for i := 0; i < 3; i++ {
		e.Evaluate(store.AgentStats{Agent: "gw-01", Count: 200})
		*now = now.Add(time.Hour)
	}
	if len(*sent) != 1 {
		t.Errorf("deliveries: got %d, want 1", len(*sent))
	}
}

func TestEvaluate_Cooldown(t *testing.T) {
	e, now, sent := newTestEngine(t, config.AlertRule{
		Name: "big", Condition: "count > 100", Cooldown: 10 * time.Minute,
	})
	e.Evaluate(store.AgentStats{Agent: "gw-01", Count: 200}) // fire
	*now = now.Add(time.Minute)
	e.Evaluate(store.AgentStats{Agent: "gw-01", Count: 0}) // resolve
	*now = now.Add(time.Minute)
	e.Evaluate(store.AgentStats{Agent: "gw-01", Count: 200}) // inside cooldown
	if len(*sent) != 2 {
		t.Fatalf("deliveries inside cooldown: got %d, want 2", len(*sent))
	}
	*now = now.Add(10 * time.Minute)
	e.Evaluate(store.AgentStats{Agent: "gw-01", Count: 200}) // after cooldown
	if len(*sent) != 3 {
		t.Errorf("deliveries after cooldown: got %d, want 3", len(*sent))
	}
}

func TestEvaluate_PerAgent(t *testing.T) {
	e, _, _ := newTestEngine(t, config.AlertRule{Name: "empty", Condition: "after_cleanup == 0", Severity: "critical"})
	e.Evaluate(store.AgentStats{Agent: "gw-01", AfterCleanup: 0})
	e.Evaluate(store.AgentStats{Agent: "gw-02", AfterCleanup: 4})
	active := e.Active()
	if len(active) != 1 || active[0].Agent != "gw-01" || active[0].Severity != "critical" {
		t.Errorf("Active: got %+v", active)
	}
}

func TestNew_SkipsInvalidRules(t *testing.T) {
	e := New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "bad", Condition: "nonsense"},
		{Name: "good", Condition: "added > 1"},
	}})
	if len(e.rules) != 1 || e.rules[0].Name != "good" {
		t.Errorf("rules: got %+v", e.rules)
	}
}

func TestDeliver_Webhooks(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		b, _ := json.Marshal(m)
		mu.Lock()
		bodies[r.URL.Path] = string(b)
		mu.Unlock()
	}))
	defer srv.Close()

	t.Setenv("HOOK_SLACK", srv.URL+"/slack")
	t.Setenv("HOOK_TEAMS", srv.URL+"/teams")
	t.Setenv("HOOK_HTTP", srv.URL+"/http")
	t.Setenv("HOOK_PD", srv.URL+"/pagerduty")
	t.Setenv("PD_KEY", "r0ut1ng")
	e := New(config.AlertsConfig{Webhooks: []config.WebhookConfig{
		{Type: "slack", URLEnv: "HOOK_SLACK"},
		{Type: "pagerduty", URLEnv: "HOOK_PD", RoutingKeyEnv: "PD_KEY"},
		{Type: "teams", URLEnv: "HOOK_TEAMS"},
		{Type: "http", URLEnv: "HOOK_HTTP"},
		{Type: "carrier-pigeon", URLEnv: "HOOK_HTTP"},
		{Type: "http", URLEnv: "HOOK_UNSET"},
	}})

	e.deliver(&Alert{RuleName: "churn", Agent: "gw-01", Severity: "critical", Message: "m", State: StateFiring})

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 4 {
		t.Fatalf("webhook calls: got %d, want 4 (%v)", len(bodies), bodies)
	}
	for _, want := range []string{`"routing_key":"r0ut1ng"`, `"event_action":"trigger"`, `"dedup_key":"btscan:churn:gw-01"`, `"source":"gw-01"`} {
		if !strings.Contains(bodies["/pagerduty"], want) {
			t.Errorf("pagerduty body missing %s: got %s", want, bodies["/pagerduty"])
		}
	}
	if !strings.Contains(bodies["/slack"], "[CRITICAL]") {
		t.Errorf("slack body: got %s", bodies["/slack"])
	}
	if !strings.Contains(bodies["/teams"], "MessageCard") {
		t.Errorf("teams body: got %s", bodies["/teams"])
	}
	if !strings.Contains(bodies["/http"], `"rule_name":"churn"`) {
		t.Errorf("http body: got %s", bodies["/http"])
	}
}

func TestRenderers_Resolved(t *testing.T) {
	a := &Alert{RuleName: "empty", Agent: "gw-02", Severity: "critical", State: StateResolved}

	pd := pagerDutyBody(a, config.WebhookConfig{}).(map[string]any)
	if pd["event_action"] != "resolve" {
		t.Errorf("pagerduty event_action = %v, want resolve", pd["event_action"])
	}
	slack := slackBody(a, config.WebhookConfig{}).(map[string]string)
	if got, want := slack["text"], "*[RESOLVED] empty on agent gw-02*"; got != want {
		t.Errorf("slack text = %q, want %q", got, want)
	}
	teams := teamsBody(a, config.WebhookConfig{}).(map[string]any)
	if teams["themeColor"] != "2EB67D" {
		t.Errorf("teams themeColor = %v, want 2EB67D", teams["themeColor"])
	}
}

func TestDeliver_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := New(config.AlertsConfig{})
	if err := e.post(srv.URL, map[string]string{}); err == nil {
		t.Error("post: expected error for HTTP 502, got nil")
	}
}
