package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btscan/btscan/server/internal/config"
	"github.com/btscan/btscan/server/internal/store"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Agent      string     `json:"agent"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against agent stats and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:agent"
	lastFire map[string]time.Time // for cooldown
	history  []*Alert             // recently resolved alerts

	client *http.Client
	now    func() time.Time
	send   func(*Alert) // async delivery; replaced in tests
}

// Validate reports the first rule whose condition cannot be parsed.
func Validate(cfg config.AlertsConfig) error {
	for _, r := range cfg.Rules {
		if _, err := parseCondition(r.Condition); err != nil {
			return fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
	}
	return nil
}

// New creates an Engine from the server alert configuration. Rules whose
// condition does not parse are logged and skipped; call Validate first to
// reject them instead. An Engine with no rules is valid and Evaluate becomes
// a no-op.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.send = func(a *Alert) { go e.deliver(a) }
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: skipping rule", "rule", r.Name, "err", err)
			continue
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e
}

// Evaluate tests all configured rules against the stats of one agent.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(st store.AgentStats) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	for _, r := range e.rules {
		fires, value := r.cond.eval(st)
		if fires {
			e.fire(r, st.Agent, value, now)
		} else {
			e.resolve(r, st.Agent, now)
		}
	}
}

func (e *Engine) fire(r rule, agent string, value float64, now time.Time) {
	key := r.Name + ":" + agent

	e.mu.Lock()
	if _, firing := e.active[key]; firing || now.Sub(e.lastFire[key]) < r.Cooldown {
		e.mu.Unlock()
		return
	}
	a := &Alert{
		ID:       uuid.NewString(),
		RuleName: r.Name,
		Agent:    agent,
		Severity: r.Severity,
		Value:    value,
		Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.0f)",
			r.Severity, r.Name, agent, r.Condition, value),
		FiredAt: now,
		State:   StateFiring,
	}
	e.active[key] = a
	e.lastFire[key] = now
	cp := *a
	e.mu.Unlock()

	slog.Warn("alerts: alert fired",
		"rule", r.Name,
		"agent", agent,
		"value", value,
		"severity", r.Severity,
	)
	e.send(&cp)
}

func (e *Engine) resolve(r rule, agent string, now time.Time) {
	key := r.Name + ":" + agent

	e.mu.Lock()
	a, ok := e.active[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	cp := *a
	e.mu.Unlock()

	slog.Info("alerts: alert resolved", "rule", r.Name, "agent", agent)
	e.send(&cp)
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}
