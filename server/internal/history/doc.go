// Package history persists accepted telemetry records in Postgres.
//
// Every record of an accepted push becomes one row of telemetry_history,
// inserted in multi-row statements of at most BatchSize rows inside one
// transaction per push. Recent reads back the newest rows for a station.
package history
