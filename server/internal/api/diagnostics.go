package api

import (
	"fmt"
	"time"

	"github.com/btscan/btscan/server/internal/store"
)

// DiagnosticHint is one human-readable insight about an agent's scanning.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// churnRatio is the removed/after_cleanup ratio above which a sweep counts
// as high churn.
const churnRatio = 0.5

// computeDiagnostics derives hints from an agent's latest sweep counters.
// ttl is the store TTL; an agent silent for over half of it is flagged.
func computeDiagnostics(a store.AgentStats, now time.Time, ttl time.Duration) []DiagnosticHint {
	var hints []DiagnosticHint

	if silent := now.Sub(a.UpdatedAt); silent > ttl/2 {
		v := silent.Seconds()
		hints = append(hints, DiagnosticHint{
			Key:   "silent",
			Level: "critical",
			Title: "No recent pushes",
			Detail: fmt.Sprintf(
				"The agent has not pushed for %s. It will be dropped from the "+
					"dashboard after %s. Check that the agent is running and can "+
					"reach the server, and look for flush failures in its log.",
				silent.Round(time.Second), ttl),
			Value: &v,
		})
		return hints
	}

	if a.Count == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "no_stations",
			Level: "info",
			Title: "No stations in range",
			Detail: "The last sweep found no stations. Either nothing is " +
				"advertising nearby or the radio is not scanning; an agent that " +
				"fails to initialise the module logs a warning at startup.",
		})
		return hints
	}

	if a.Removed > 0 && float64(a.Removed) > churnRatio*float64(a.Count) {
		v := float64(a.Removed)
		hints = append(hints, DiagnosticHint{
			Key:   "churn",
			Level: "warning",
			Title: fmt.Sprintf("%d stations aged out", a.Removed),
			Detail: fmt.Sprintf(
				"%d of %d stations were removed in the last sweep. Stations "+
					"that advertise less often than the configured max age keep "+
					"disappearing and coming back; raise aging.max_age if that "+
					"is not wanted.",
				a.Removed, a.Count),
			Value: &v,
		})
	}

	if a.Added > 0 {
		v := float64(a.Added)
		hints = append(hints, DiagnosticHint{
			Key:    "added",
			Level:  "info",
			Title:  fmt.Sprintf("%d new stations", a.Added),
			Detail: fmt.Sprintf("%d stations appeared since the previous sweep.", a.Added),
			Value:  &v,
		})
	}

	if len(hints) == 0 {
		v := float64(a.AfterCleanup)
		hints = append(hints, DiagnosticHint{
			Key:   "healthy",
			Level: "ok",
			Title: "All clear",
			Detail: fmt.Sprintf(
				"The agent is pushing regularly and tracks %d stations.",
				a.AfterCleanup),
			Value: &v,
		})
	}

	return hints
}
