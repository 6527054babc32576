package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fieldscan/fieldscan/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage FieldScan configuration",
	Long:  `View and manage FieldScan configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current FieldScan configuration.`,
	Example: `  # Show configuration as YAML (default)
  fieldscan config show

  # Show configuration as JSON
  fieldscan config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long:  `Set a specific configuration value and save it.`,
	Example: `  # Switch the capture trigger to every 20 meters
  fieldscan config set trigger.mode distance
  fieldscan config set trigger.distance_meters 20

  # Point the rig at a real camera
  fieldscan config set camera.driver uvc

  # Pin the GPS port
  fieldscan config set gps.port /dev/ttyACM0`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to defaults",
	Long:  `Replace the configuration file with the built-in defaults.`,
	RunE:  runConfigReset,
}

var configFormat string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)

	configShowCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfgMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cfg := cfgMgr.Get()

	switch configFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", configFormat)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	cfgMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cfg := cfgMgr.Get()
	if err := setConfigKey(cfg, key, value); err != nil {
		return err
	}
	if err := cfgMgr.Update(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Configuration updated: %s = %s\n", key, value)
	return nil
}

// setConfigKey assigns one dotted key in the typed configuration.
func setConfigKey(cfg *config.Config, key, value string) error {
	parseInt := func() (int, error) {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
			return 0, fmt.Errorf("invalid number: %s", value)
		}
		return n, nil
	}
	parseFloat := func() (float64, error) {
		var f float64
		if _, err := fmt.Sscanf(value, "%g", &f); err != nil {
			return 0, fmt.Errorf("invalid number: %s", value)
		}
		return f, nil
	}
	parseBool := func() (bool, error) {
		var b bool
		if _, err := fmt.Sscanf(value, "%t", &b); err != nil {
			return false, fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		return b, nil
	}

	var err error
	switch key {
	case "server_port":
		cfg.ServerPort, err = parseInt()
	case "storage.base_path":
		cfg.Storage.BasePath = value
	case "storage.jpeg_quality":
		cfg.Storage.JPEGQuality, err = parseInt()
	case "camera.driver":
		cfg.Camera.Driver = value
	case "camera.device_id":
		cfg.Camera.DeviceID = value
	case "camera.fps":
		cfg.Camera.FPS, err = parseInt()
	case "camera.width":
		cfg.Camera.Width, err = parseInt()
	case "camera.height":
		cfg.Camera.Height, err = parseInt()
	case "camera.replay_dir":
		cfg.Camera.ReplayDir = value
	case "gps.enabled":
		cfg.GPS.Enabled, err = parseBool()
	case "gps.port":
		cfg.GPS.Port = value
	case "gps.baud":
		cfg.GPS.Baud, err = parseInt()
	case "trigger.mode":
		cfg.Trigger.Mode = value
	case "trigger.interval_seconds":
		cfg.Trigger.IntervalSeconds, err = parseFloat()
	case "trigger.distance_meters":
		cfg.Trigger.DistanceMeters, err = parseFloat()
	case "trigger.motion_threshold_degrees":
		cfg.Trigger.MotionThresholdDegrees, err = parseFloat()
	case "recording.continuous_video":
		cfg.Recording.ContinuousVideo, err = parseBool()
	case "recording.video_fps":
		cfg.Recording.VideoFPS, err = parseInt()
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.pretty":
		cfg.Logging.Pretty, err = parseBool()
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return err
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	cfgMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfgMgr.Update(config.Defaults()); err != nil {
		return fmt.Errorf("failed to reset config: %w", err)
	}

	fmt.Printf("Configuration reset to defaults: %s\n", cfgMgr.GetConfigPath())
	return nil
}
