package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// Validate checks a Config for structural validity: the `validate` struct
// tags declared on Config and its nested sections, plus NDMP-specific
// cross-field rules no struct tag can express.
func Validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return err
	}

	if !cfg.Roles.Any() {
		return fmt.Errorf("roles: at least one of control, data, tape, robot must be enabled")
	}

	if cfg.Roles.Tape && cfg.Tape.Device == "" && !cfg.Tape.Simulate {
		return fmt.Errorf("tape.device is required when roles.tape is enabled and tape.simulate is false")
	}

	if cfg.Roles.Robot && cfg.Robot.Device == "" && !cfg.Robot.Simulate {
		return fmt.Errorf("robot.device is required when roles.robot is enabled and robot.simulate is false")
	}

	if cfg.Roles.Control && !cfg.Auth.AllowNone && cfg.Auth.Username == "" {
		return fmt.Errorf("auth.username is required when roles.control is enabled and auth.allow_none is false")
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry.enabled is true")
	}

	for name, formatter := range cfg.Formatter.Types {
		if formatter.BackupCommand == "" && formatter.RecoverCommand == "" {
			return fmt.Errorf("formatter.types.%s: at least one of backup_command, recover_command must be set", name)
		}
	}

	return nil
}
