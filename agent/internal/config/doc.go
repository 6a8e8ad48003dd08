// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: name, device, aging, sinks [], metrics, log
//   - DeviceConfig: tty path and baud, AT command timeout, scan command and
//     interval, optional replay_file
//   - AgingConfig: sweep_interval, max_age, capacity, prefix
//   - SinkConfig: type (grpc|textfile|log); grpc endpoint, auth, timeout and
//     compression; textfile path
//   - AuthConfig: mode (mtls|apikey|none), cert/key/ca files, header, key_env;
//     Key() resolves from the environment
//   - LogConfig: level and the optional rotating log file
//
// Load(path) reads the YAML file, applies defaults (115200 baud, 10s scan,
// 30s sweep, 120s max age, 1024 stations, prefix BTScan), then validates
// required fields and enums.
//
// Watch(ctx, path, current, onChange) uses fsnotify on the parent directory,
// so atomic-save editors that rename a new file over path are seen. Each valid
// reload is diffed against the active config: onChange receives a Change that
// lists the hot keys applied live (log.level, aging.max_age) and the sections
// that only take effect after a restart.
package config
