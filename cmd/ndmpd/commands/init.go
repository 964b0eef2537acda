package commands

import (
	"fmt"

	"github.com/ndmpd/ndmpd/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample ndmpd configuration file with CONTROL, DATA, and TAPE
roles enabled and a simulated tape device, ready to adjust for a real
environment.

By default, the configuration file is created at $XDG_CONFIG_HOME/ndmpd/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  ndmpd init

  # Initialize with custom path
  ndmpd init --config /etc/ndmpd/config.yaml

  # Force overwrite existing config
  ndmpd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to set the roles, tape device, and listen addresses")
	fmt.Println("  2. Start the session with: ndmpd start")
	fmt.Printf("  3. Or specify custom config: ndmpd start --config %s\n", configPath)

	return nil
}
