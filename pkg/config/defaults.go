package config

import (
	"strings"
	"time"

	"github.com/ndmpd/ndmpd/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyListenDefaults(&cfg.Listen)
	applyTapeDefaults(&cfg.Tape)
	applyRobotDefaults(&cfg.Robot)
	applyFormatterDefaults(&cfg.Formatter)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	// No defaults for Roles or Auth: a process with every role disabled, or
	// auth silently open, must be an explicit choice, not an accident of an
	// empty config file.
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyListenDefaults sets control connection listen defaults.
func applyListenDefaults(cfg *ListenConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 10000
	}
}

// applyTapeDefaults sets TAPE agent defaults.
func applyTapeDefaults(cfg *TapeConfig) {
	if cfg.RecordSize == 0 {
		cfg.RecordSize = 64 * bytesize.KiB
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 512
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute
	}
}

// applyRobotDefaults sets ROBOT agent defaults.
func applyRobotDefaults(cfg *RobotConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
}

// applyFormatterDefaults ensures at least the common bu_types have a usable
// shell command template, without overriding anything the user configured.
func applyFormatterDefaults(cfg *FormatterConfig) {
	if cfg.Types == nil {
		cfg.Types = make(map[string]FormatterType)
	}

	if _, ok := cfg.Types["tar"]; !ok {
		cfg.Types["tar"] = FormatterType{
			BackupCommand:  "tar -cf - -C %p .",
			RecoverCommand: "tar -xpf - -C %p",
		}
	}
	if _, ok := cfg.Types["dump"]; !ok {
		cfg.Types["dump"] = FormatterType{
			BackupCommand:  "dump -%l -f - %p",
			RecoverCommand: "restore -rf - -D %p",
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied
// and CONTROL, DATA, and TAPE enabled against a simulated tape device, the
// configuration produced by 'ndmpd init'.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Roles: RolesConfig{
			Control: true,
			Data:    true,
			Tape:    true,
		},
		Auth: AuthConfig{
			Username: "ndmp",
		},
		Tape: TapeConfig{
			Simulate: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
