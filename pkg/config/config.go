package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/ndmpd/ndmpd/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the ndmpd configuration.
//
// This structure captures the static configuration of an ndmpd process:
//   - Which NDMP roles this process embodies (Roles)
//   - Where the control connection listener binds (Listen)
//   - The tape and robot devices the TAPE/ROBOT agents drive
//   - Authentication for incoming control connections
//   - The backup/restore formatters the DATA agent may invoke
//   - Logging, telemetry, and metrics
//
// Configuration sources (in order of precedence):
//  1. Environment variables (NDMPD_*), for the keys Load lets them reach
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// Roles selects which NDMP agent roles this process hosts.
	Roles RolesConfig `mapstructure:"roles" yaml:"roles"`

	// Listen configures the single control connection listen address.
	Listen ListenConfig `mapstructure:"listen" yaml:"listen"`

	// Tape configures the device the TAPE agent drives.
	Tape TapeConfig `mapstructure:"tape" yaml:"tape"`

	// Robot configures the device the ROBOT agent drives.
	Robot RobotConfig `mapstructure:"robot" yaml:"robot"`

	// Auth configures how incoming control connections authenticate.
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Formatter configures the backup/restore formatters the DATA agent may
	// exec as child processes, keyed by NDMP bu_type.
	Formatter FormatterConfig `mapstructure:"formatter" yaml:"formatter"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for a session to drain
	// its connections and formatter children before forcing shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// RolesConfig selects which NDMP agent roles this process hosts. A process
// may host any non-empty subset; most deployments run CONTROL+DATA+TAPE
// together and ROBOT on a host with SCSI access to the media changer.
type RolesConfig struct {
	Control bool `mapstructure:"control" yaml:"control"`
	Data    bool `mapstructure:"data" yaml:"data"`
	Tape    bool `mapstructure:"tape" yaml:"tape"`
	Robot   bool `mapstructure:"robot" yaml:"robot"`
}

// Any reports whether at least one role is enabled.
func (r RolesConfig) Any() bool {
	return r.Control || r.Data || r.Tape || r.Robot
}

// ListenConfig configures the single control connection listen address,
// shared by every enabled role.
type ListenConfig struct {
	// Host is the address to bind the control connection listener to.
	// Default: "0.0.0.0"
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the TCP port NDMP control connections arrive on.
	// Default: 10000 (the well-known NDMP port)
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// TapeConfig configures the device the TAPE agent drives.
type TapeConfig struct {
	// Device is the path to the tape device (e.g. /dev/nst0).
	// Required when Roles.Tape is enabled and Simulate is false.
	Device string `mapstructure:"device" yaml:"device"`

	// RecordSize is the fixed tape record size in bytes.
	// Default: 65536 (the NDMP convention)
	RecordSize bytesize.ByteSize `mapstructure:"record_size" yaml:"record_size"`

	// BlockSize is the SCSI block size reported to the DATA agent for
	// image-stream window alignment.
	// Default: 512
	BlockSize bytesize.ByteSize `mapstructure:"block_size" yaml:"block_size"`

	// Timeout bounds mtio/read/write operations against the device.
	// Default: 1m
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Simulate runs the TAPE agent against an in-memory tape simulator
	// instead of a real device. Useful for development and testing.
	Simulate bool `mapstructure:"simulate" yaml:"simulate"`
}

// RobotConfig configures the device the ROBOT agent drives.
type RobotConfig struct {
	// Device is the path to the SCSI media changer device (e.g. /dev/sg3).
	// Required when Roles.Robot is enabled and Simulate is false.
	Device string `mapstructure:"device" yaml:"device"`

	// DriveAddresses lists the SCSI element addresses of the drives the
	// robot can load/unload, in slot order.
	DriveAddresses []uint16 `mapstructure:"drive_addresses" yaml:"drive_addresses"`

	// SlotAddresses lists the SCSI element addresses of the storage slots.
	SlotAddresses []uint16 `mapstructure:"slot_addresses" yaml:"slot_addresses"`

	// Timeout bounds SCSI passthrough commands against the changer.
	// Default: 2m
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Simulate runs the ROBOT agent against an in-memory changer simulator.
	Simulate bool `mapstructure:"simulate" yaml:"simulate"`
}

// AuthConfig configures how incoming control connections authenticate.
// NDMP uses an MD5 challenge/response (NDMP_CONFIG_GET_AUTH_ATTR,
// NDMP_CONNECT_CLIENT_AUTH) or a clear-text username/password pair.
type AuthConfig struct {
	// Username is the account an NDMP client authenticates as.
	Username string `mapstructure:"username" yaml:"username"`

	// Password is the clear-text password used to derive the MD5
	// challenge response and to validate NDMP_AUTH_TEXT connects.
	// Override via NDMPD_AUTH_PASSWORD rather than storing in plaintext
	// config where possible.
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// AllowNone permits NDMP_AUTH_NONE connects (no credential check).
	// Default: false
	AllowNone bool `mapstructure:"allow_none" yaml:"allow_none"`
}

// FormatterConfig configures the backup/restore formatters the DATA agent
// may exec as child processes, keyed by NDMP bu_type (e.g. "dump", "tar").
type FormatterConfig struct {
	// Types maps a bu_type name to its formatter definition.
	Types map[string]FormatterType `mapstructure:"types" yaml:"types"`
}

// FormatterType is a single named formatter: the shell command template
// run as the DATA agent's child process, with %-placeholders substituted
// for the backup/restore environment (path, level, options).
type FormatterType struct {
	// BackupCommand is the shell command line used for NDMP_DATA_START_BACKUP.
	// "%p" is replaced with the backup path, "%l" with bu_level.
	BackupCommand string `mapstructure:"backup_command" yaml:"backup_command"`

	// RecoverCommand is the shell command line used for NDMP_DATA_START_RECOVER.
	// "%p" is replaced with the restore target directory.
	RecoverCommand string `mapstructure:"recover_command" yaml:"recover_command"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use an insecure (non-TLS) connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NDMPD_*)
//  2. Configuration file
//  3. Default values
//
// Environment variables override only keys present in the configuration
// file, plus auth.password, which is bound explicitly. When no configuration
// file is found, Load returns GetDefaultConfig() without consulting the
// environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages. It checks
// whether the config file exists and provides user-friendly instructions
// if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  ndmpd init\n\n"+
				"Or specify a custom config file:\n"+
				"  ndmpd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  ndmpd init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600 because Auth.Password may be stored in clear text here.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variable and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the NDMPD_ prefix and underscores.
	// Example: NDMPD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("NDMPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// auth.password is omitted from the file when empty, so AutomaticEnv
	// alone would never reach it on Unmarshal.
	_ = v.BindEnv("auth.password", "NDMPD_AUTH_PASSWORD")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types:
// ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize,
// enabling config files to use human-readable sizes like "64Ki", "512",
// or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, enabling config
// files to use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ndmpd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "ndmpd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the init command).
func GetConfigDir() string {
	return getConfigDir()
}
