package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cliproom/cliproom/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample cliproom configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/cliproom/config.yaml. Use --config to specify a custom
path.

A random room salt is generated and persisted: the salt feeds deterministic
user-id derivation, so it must stay stable across restarts or every
returning client gets a new identity.

Examples:
  # Initialize with default location
  cliproom init

  # Initialize with custom path
  cliproom init --config /etc/cliproom/config.yaml

  # Force overwrite existing config
  cliproom init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.GetDefaultConfig()
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: cliproom start")
	fmt.Printf("  3. Or specify custom config: cliproom start --config %s\n", configPath)
	return nil
}
