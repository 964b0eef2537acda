package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidListenPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Listen.Port = 70000 // Out of range

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_NoRolesEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Roles = RolesConfig{}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when no roles are enabled")
	}
	if !strings.Contains(err.Error(), "roles") {
		t.Errorf("Expected error about roles, got: %v", err)
	}
}

func TestValidate_TapeRequiresDeviceUnlessSimulated(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Roles.Tape = true
	cfg.Tape.Simulate = false
	cfg.Tape.Device = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing tape device")
	}
	if !strings.Contains(err.Error(), "tape.device") {
		t.Errorf("Expected error about tape.device, got: %v", err)
	}
}

func TestValidate_RobotRequiresDeviceUnlessSimulated(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Roles.Robot = true
	cfg.Robot.Simulate = false
	cfg.Robot.Device = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing robot device")
	}
	if !strings.Contains(err.Error(), "robot.device") {
		t.Errorf("Expected error about robot.device, got: %v", err)
	}
}

func TestValidate_ControlRequiresAuthUsername(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Roles.Control = true
	cfg.Auth.AllowNone = false
	cfg.Auth.Username = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing auth username")
	}
	if !strings.Contains(err.Error(), "auth.username") {
		t.Errorf("Expected error about auth.username, got: %v", err)
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for telemetry enabled without endpoint")
	}
	if !strings.Contains(err.Error(), "telemetry") {
		t.Errorf("Expected error about telemetry endpoint, got: %v", err)
	}
}

func TestValidate_TelemetrySampleRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = "localhost:4317"
	cfg.Telemetry.SampleRate = 1.5 // Out of range (should be 0.0-1.0)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for sample rate out of range")
	}
}

func TestValidate_FormatterRequiresACommand(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Formatter.Types["broken"] = FormatterType{}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for formatter with no commands")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("Expected error to name the broken formatter, got: %v", err)
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	testCases := []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"}

	for _, level := range testCases {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		err := Validate(cfg)
		if err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}

		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}

	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected ApplyDefaults to normalize 'info' to 'INFO', got %q", cfg.Logging.Level)
	}
}
