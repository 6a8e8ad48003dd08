package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/btscan/btscan/server/internal/config"
)

// webhookTimeout bounds one delivery attempt.
const webhookTimeout = 10 * time.Second

// renderers build the JSON body posted to each webhook type.
var renderers = map[string]func(*Alert, config.WebhookConfig) any{
	"slack":     slackBody,
	"teams":     teamsBody,
	"pagerduty": pagerDutyBody,
	"http":      httpBody,
}

// deliver posts a to every configured webhook. Failures are logged per target.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		render, ok := renderers[wh.Type]
		if !ok {
			slog.Warn("alerts: skipping unknown webhook type", "type", wh.Type)
			continue
		}
		url := wh.URL()
		if url == "" {
			continue
		}
		if err := e.post(url, render(a, wh)); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "agent", a.Agent, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type, "rule", a.RuleName, "agent", a.Agent, "state", a.State)
	}
}

func (e *Engine) post(url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// headline is the one-line text shared by the chat integrations.
func headline(a *Alert) string {
	if a.State == StateResolved {
		return fmt.Sprintf("[RESOLVED] %s on agent %s", a.RuleName, a.Agent)
	}
	return fmt.Sprintf("[%s] %s on agent %s", severityTag(a.Severity), a.RuleName, a.Agent)
}

func slackBody(a *Alert, _ config.WebhookConfig) any {
	text := "*" + headline(a) + "*"
	if a.State == StateFiring {
		text += "\n" + a.Message
	}
	return map[string]string{"text": text}
}

func teamsBody(a *Alert, _ config.WebhookConfig) any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity, a.State),
		"summary":    headline(a),
		"title":      "btscan: " + headline(a),
		"text":       a.Message,
	}
}

// pagerDutyBody is an Events API v2 event. The dedup key pairs rule and agent
// so a resolve closes the incident its trigger opened.
func pagerDutyBody(a *Alert, wh config.WebhookConfig) any {
	action := "trigger"
	if a.State == StateResolved {
		action = "resolve"
	}
	sev := a.Severity
	if sev != "critical" && sev != "warning" {
		sev = "info"
	}
	return map[string]any{
		"routing_key":  wh.RoutingKey(),
		"event_action": action,
		"dedup_key":    "btscan:" + a.RuleName + ":" + a.Agent,
		"payload": map[string]any{
			"summary":   a.Message,
			"source":    a.Agent,
			"severity":  sev,
			"timestamp": a.FiredAt.UTC().Format(time.RFC3339),
			"custom_details": map[string]any{
				"rule":  a.RuleName,
				"value": a.Value,
			},
		},
	}
}

func httpBody(a *Alert, _ config.WebhookConfig) any {
	return map[string]any{"alert": a}
}

func severityTag(s string) string {
	switch s {
	case "critical":
		return "CRITICAL"
	case "warning":
		return "WARNING"
	default:
		return "INFO"
	}
}

func severityColor(s, state string) string {
	if state == StateResolved {
		return "2EB67D"
	}
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
