// Package alerts implements the rule evaluation engine and webhook delivery
// for btscan-server. Rules are evaluated against each agent's sweep counters
// after every accepted push; webhooks are delivered to Teams, Slack,
// PagerDuty, or generic HTTP targets.
package alerts
