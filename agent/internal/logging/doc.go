// Package logging builds the agent's slog logger from config.LogConfig.
//
// Output is JSON, to stdout by default or to a size-rotated file through
// lumberjack when log.file is set. The level lives in a slog.LevelVar so a
// config reload can change it without rebuilding the logger.
package logging
