package commands

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/galaxycam/internal/config"
	"github.com/bryanchriswhite/galaxycam/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "galaxycam",
		Short: "galaxycam - Daheng Galaxy camera capture and streaming",
		Long: `galaxycam drives a Daheng Galaxy (or simulated) industrial camera,
converts every frame to a BGR image and serves the result.

Features:
  • Continuous free-running acquisition with a small frame queue
  • Bayer demosaicing and 180° rotation to upright BGR
  • Exposure, gain and frame rate clamped to what the sensor allows
  • MJPEG stream, JPEG snapshots and still-frame recording
  • Template-driven text and crosshair overlays
  • REST API with a live stats websocket`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/galaxycam/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-readable console logs")
	rootCmd.PersistentFlags().String("driver", "", "camera driver (sim or galaxy)")
	rootCmd.PersistentFlags().String("device", "", "serial number substring of the camera to open")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
	viper.BindPFlag("camera.driver", rootCmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("camera.device_selector", rootCmd.PersistentFlags().Lookup("device"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file, applies GALAXYCAM_* environment
// overrides and then command-line flags, and initializes logging. Flag
// overrides are not written back to the file.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}
	cfg, err := configMgr.Resolve()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to resolve config")
	}

	if port := viper.GetInt("server_port"); port > 0 {
		cfg.ServerPort = port
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	if viper.GetBool("log_pretty") {
		cfg.LogPretty = true
	}
	if driver := viper.GetString("camera.driver"); driver != "" && driver != cfg.Camera.Driver {
		cfg.Camera.Driver = driver
		// Options belong to the driver they were written for.
		cfg.Camera.DriverOptions = map[string]any{}
	}
	if selector := viper.GetString("camera.device_selector"); selector != "" {
		cfg.Camera.DeviceSelector = selector
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	logger.WithComponent("config").Debug().Str("path", configMgr.GetConfigPath()).Msg("Configuration loaded")
	return configMgr, cfg, nil
}
