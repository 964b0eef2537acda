package config

import (
	"fmt"
	"os"
)

// sampleConfigHeader precedes the generated YAML in a fresh config file.
const sampleConfigHeader = `# ndmpd Configuration File
#
# This is a sample configuration with CONTROL, DATA, and TAPE roles enabled
# against a simulated tape device. Adjust roles, listen, tape, robot, and
# auth below for a real deployment, then remove 'tape.simulate'.
#
# Settings present in this file can be overridden with NDMPD_<SECTION>_<KEY>
# environment variables, e.g. NDMPD_LOGGING_LEVEL=DEBUG. NDMPD_AUTH_PASSWORD
# applies even when auth.password is not in the file.

`

// InitConfig creates a sample configuration file at the default location
// ($XDG_CONFIG_HOME/ndmpd/config.yaml). If force is false and a file
// already exists there, it returns an error instead of overwriting it.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given path.
// If force is false and a file already exists there, it returns an error
// instead of overwriting it.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := GetDefaultConfig()

	if err := SaveConfig(cfg, path); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read back generated config: %w", err)
	}

	return os.WriteFile(path, append([]byte(sampleConfigHeader), data...), 0600)
}
