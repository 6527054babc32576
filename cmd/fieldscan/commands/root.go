package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fieldscan/fieldscan/internal/config"
	"github.com/fieldscan/fieldscan/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "fieldscan",
		Short: "FieldScan - Stereo depth camera capture rig with GPS tagging",
		Long: `FieldScan runs a stereo depth camera and a GPS receiver as one field
capture rig: it acquires RGB, depth and infrared streams, tags every capture
with the current location fix, and saves stills, sidecar metadata and
continuous video on a time or distance trigger.

Features:
  • RGB, colorized depth, raw depth and IR stream acquisition
  • NMEA GPS over serial with automatic port discovery
  • Motion-gated capture on time or travelled-distance triggers
  • JSON sidecar metadata next to every image
  • Continuous per-stream MJPEG video recording
  • REST API, live MJPEG previews and a web dashboard
  • Prometheus metrics`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/fieldscan/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable console logs instead of JSON")

	// Bind flags to viper
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("FIELDSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
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

// loadConfig loads the configuration file and initializes logging from it,
// with the root flags taking precedence.
func loadConfig(cmd *cobra.Command) (*config.Manager, error) {
	cfgMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := cfgMgr.Get()
	level := cfg.Logging.Level
	if l := viper.GetString("logging.level"); l != "" {
		level = l
	}
	pretty := cfg.Logging.Pretty
	if cmd.Flags().Changed("pretty") || rootCmd.PersistentFlags().Changed("pretty") {
		pretty = viper.GetBool("logging.pretty")
	}
	logger.Init(level, pretty)

	return cfgMgr, nil
}
