package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/galaxycam/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage galaxycam configuration",
	Long:  `View and manage galaxycam configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the configuration as stored on disk. With --resolved,
GALAXYCAM_* environment overrides are applied first.`,
	Example: `  # Show configuration as YAML (default)
  galaxycam config show

  # Show configuration as JSON, including environment overrides
  galaxycam config show --format json --resolved`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long: `Set a configuration value by its dotted key. The value is converted to
the key's type and the whole configuration is validated before saving.`,
	Example: `  # Set exposure to 8 ms
  galaxycam config set camera.exposure_ms 8

  # Prefer Bayer over BGR
  galaxycam config set camera.pixel_formats BayerRG8,BGR8

  # Drop the oldest queued frame instead of stalling acquisition
  galaxycam config set camera.overflow drop-oldest`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a configuration value by its dotted key, with environment overrides applied.`,
	Example: `  # Get server port
  galaxycam config get server_port

  # Get the acquire timeout
  galaxycam config get camera.acquire_timeout_ms`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file, or with --dir the directory holding it.`,
	RunE:  runConfigPath,
}

var (
	formatFlag   string
	resolvedFlag bool
	dirFlag      bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
	configShowCmd.Flags().BoolVar(&resolvedFlag, "resolved", false, "apply environment overrides")
	configPathCmd.Flags().BoolVar(&dirFlag, "dir", false, "print the config directory instead")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	cfg := configMgr.Get()
	if resolvedFlag {
		if cfg, err = configMgr.Resolve(); err != nil {
			return err
		}
	}

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return errors.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := configMgr.SetValue(key, value); err != nil {
		return err
	}

	fmt.Printf("Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	v, err := configMgr.GetViper()
	if err != nil {
		return err
	}
	if !v.IsSet(key) {
		return errors.Errorf("configuration key not found: %s", key)
	}

	fmt.Println(v.Get(key))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	if dirFlag {
		fmt.Println(configMgr.GetConfigDir())
		return nil
	}
	fmt.Println(configMgr.GetConfigPath())
	return nil
}
