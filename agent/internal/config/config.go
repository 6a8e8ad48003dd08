package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultDevicePath     = "/dev/ttyHS0"
	DefaultBaud           = 115200
	DefaultCommandTimeout = 30 * time.Second
	DefaultScanCommand    = "AT+SRBLESCAN=5,1"
	DefaultScanInterval   = 10 * time.Second
	DefaultSweepInterval  = 30 * time.Second
	DefaultMaxAge         = 120 * time.Second
	DefaultCapacity       = 1024
	DefaultPrefix         = "BTScan"
	DefaultSinkTimeout    = 10 * time.Second
	DefaultMetricsListen  = ":9102"
	DefaultLogLevel       = "info"
)

// Config is the top-level configuration of btscan-agent, read from a YAML
// file with a single top-level agent: key.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// Name identifies this agent to the server. Defaults to the hostname.
	Name string `yaml:"name"`

	Device  DeviceConfig  `yaml:"device"`
	Aging   AgingConfig   `yaml:"aging"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// DeviceConfig describes the BX310x radio.
type DeviceConfig struct {
	// Path is the tty the module is attached to.
	Path string `yaml:"path"`

	// Baud is the line speed; the line is always 8N1 raw.
	Baud int `yaml:"baud"`

	// CommandTimeout bounds one AT command round trip, including the
	// scan window of the scan command.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// ScanCommand is sent every ScanInterval.
	ScanCommand  string        `yaml:"scan_command"`
	ScanInterval time.Duration `yaml:"scan_interval"`

	// ReplayFile, when set, replaces the radio with a file of captured
	// notification lines. Path is then ignored.
	ReplayFile string `yaml:"replay_file"`
}

// AgingConfig controls the station cache sweep.
type AgingConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// MaxAge is how long a station may go unseen before it is dropped.
	// Hot-reloadable.
	MaxAge time.Duration `yaml:"max_age"`

	Capacity int    `yaml:"capacity"`
	Prefix   string `yaml:"prefix"`
}

// SinkConfig describes one telemetry destination.
type SinkConfig struct {
	// Type is one of: grpc | textfile | log.
	Type string `yaml:"type"`

	// gRPC fields, used when Type == "grpc".
	Endpoint    string        `yaml:"endpoint"`
	Auth        AuthConfig    `yaml:"auth"`
	Timeout     time.Duration `yaml:"timeout"`
	Compression string        `yaml:"compression"` // zstd | none

	// Path is the output file when Type == "textfile".
	Path string `yaml:"path"`
}

// AuthConfig specifies how the agent authenticates to btscan-server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields, used when Mode == "apikey".
	// Header is the metadata key to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// MetricsConfig configures the Prometheus endpoint of the agent itself.
type MetricsConfig struct {
	// Listen is the address /metrics is served on; empty disables it.
	Listen string `yaml:"listen"`
}

// LogConfig configures the agent log output.
type LogConfig struct {
	// Level is one of: debug | info | warn | error. Hot-reloadable.
	Level string `yaml:"level"`

	// File, when set, sends logs to a rotating file instead of stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applySinkDefaults(cfg)
	if cfg.Agent.Name == "" {
		cfg.Agent.Name, _ = os.Hostname()
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Device: DeviceConfig{
				Path:           DefaultDevicePath,
				Baud:           DefaultBaud,
				CommandTimeout: DefaultCommandTimeout,
				ScanCommand:    DefaultScanCommand,
				ScanInterval:   DefaultScanInterval,
			},
			Aging: AgingConfig{
				SweepInterval: DefaultSweepInterval,
				MaxAge:        DefaultMaxAge,
				Capacity:      DefaultCapacity,
				Prefix:        DefaultPrefix,
			},
			Metrics: MetricsConfig{Listen: DefaultMetricsListen},
			Log:     LogConfig{Level: DefaultLogLevel},
		},
	}
}

// applySinkDefaults fills per-sink defaults; list items are not covered by
// defaults().
func applySinkDefaults(cfg *Config) {
	for i := range cfg.Agent.Sinks {
		s := &cfg.Agent.Sinks[i]
		if s.Type == "grpc" {
			if s.Timeout == 0 {
				s.Timeout = DefaultSinkTimeout
			}
			if s.Compression == "" {
				s.Compression = "zstd"
			}
			if s.Auth.Mode == "apikey" && s.Auth.Header == "" {
				s.Auth.Header = "x-api-key"
			}
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.Device.Path == "" && a.Device.ReplayFile == "" {
		return fmt.Errorf("agent.device: path or replay_file is required")
	}
	if a.Device.Baud <= 0 {
		return fmt.Errorf("agent.device.baud must be positive")
	}
	if a.Device.CommandTimeout <= 0 {
		return fmt.Errorf("agent.device.command_timeout must be positive")
	}
	if a.Device.ScanInterval <= 0 {
		return fmt.Errorf("agent.device.scan_interval must be positive")
	}
	if !strings.HasPrefix(strings.ToUpper(a.Device.ScanCommand), "AT") {
		return fmt.Errorf("agent.device.scan_command %q is not an AT command", a.Device.ScanCommand)
	}
	if a.Aging.SweepInterval <= 0 {
		return fmt.Errorf("agent.aging.sweep_interval must be positive")
	}
	if a.Aging.MaxAge <= 0 {
		return fmt.Errorf("agent.aging.max_age must be positive")
	}
	if a.Aging.Capacity <= 0 {
		return fmt.Errorf("agent.aging.capacity must be positive")
	}
	if a.Aging.Prefix == "" || strings.Contains(a.Aging.Prefix, ".") {
		return fmt.Errorf("agent.aging.prefix %q must be a single non-empty path segment", a.Aging.Prefix)
	}
	if len(a.Sinks) == 0 {
		return fmt.Errorf("agent.sinks: at least one sink is required")
	}
	for i, s := range a.Sinks {
		switch s.Type {
		case "grpc":
			if s.Endpoint == "" {
				return fmt.Errorf("sinks[%d]: endpoint is required for grpc", i)
			}
			switch s.Auth.Mode {
			case "mtls":
				if s.Auth.CertFile == "" || s.Auth.KeyFile == "" {
					return fmt.Errorf("sinks[%d]: mtls requires cert_file and key_file", i)
				}
			case "apikey", "none", "":
			default:
				return fmt.Errorf("sinks[%d]: unknown auth mode %q", i, s.Auth.Mode)
			}
			switch s.Compression {
			case "zstd", "none":
			default:
				return fmt.Errorf("sinks[%d]: unknown compression %q", i, s.Compression)
			}
		case "textfile":
			if s.Path == "" {
				return fmt.Errorf("sinks[%d]: path is required for textfile", i)
			}
		case "log":
		default:
			return fmt.Errorf("sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	switch strings.ToLower(a.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log.level: unknown level %q", a.Log.Level)
	}
	return nil
}
