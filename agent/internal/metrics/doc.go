// Package metrics exposes the agent's own health as Prometheus metrics:
// notification lines read, parse failures by kind, dropped sightings, sweeps,
// aged-out stations, sink flush failures and the current station count.
//
// Metrics live in a private registry, served by Handler on
// agent.metrics.listen.
package metrics
