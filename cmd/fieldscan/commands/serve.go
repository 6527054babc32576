package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fieldscan/fieldscan/internal/api"
	"github.com/fieldscan/fieldscan/internal/camera"
	"github.com/fieldscan/fieldscan/internal/camera/replay"
	"github.com/fieldscan/fieldscan/internal/camera/synth"
	"github.com/fieldscan/fieldscan/internal/camera/uvc"
	"github.com/fieldscan/fieldscan/internal/config"
	"github.com/fieldscan/fieldscan/internal/logger"
	"github.com/fieldscan/fieldscan/internal/rig"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture rig and its control server",
	Long: `Start the capture rig together with the HTTP control server.

The rig opens the configured camera and GPS receiver and begins publishing
frames. The server exposes the JSON API, live MJPEG previews of every
stream, a WebSocket status feed, the web dashboard and Prometheus metrics.

If the camera cannot be opened at launch the server still comes up; the
rig can be started later from the dashboard or the API once the hardware
is connected.`,
	Example: `  # Run with the configured camera and port
  fieldscan serve

  # Run on a different port with the synthetic camera
  fieldscan serve --port 9090 --driver synth

  # Run without the GPS receiver
  fieldscan serve --gps=false

  # Save captures somewhere else for this survey
  fieldscan serve --base-path /mnt/field/plot-7`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, fmt.Sprintf("server port (default is %d)", config.DefaultPort))
	serveCmd.Flags().String("driver", "", "camera driver (synth, replay, uvc)")
	serveCmd.Flags().Bool("gps", true, "read the GPS receiver")
	serveCmd.Flags().String("base-path", "", "base directory for captures")

	viper.BindPFlag("server_port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("camera.driver", serveCmd.Flags().Lookup("driver"))
	viper.BindPFlag("gps.enabled", serveCmd.Flags().Lookup("gps"))
	viper.BindPFlag("storage.base_path", serveCmd.Flags().Lookup("base-path"))
}

// buildRegistry assembles the camera drivers in fallback preference order.
func buildRegistry(cfg *config.Config) *camera.Registry {
	return camera.NewRegistry(
		uvc.New(),
		replay.New(cfg.Camera.ReplayDir),
		synth.New(),
	)
}

// applyServeOverrides folds the serve flags into the stored configuration.
// Flag values persist, matching the dashboard's set-and-remember behavior.
func applyServeOverrides(cmd *cobra.Command, cfgMgr *config.Manager) error {
	cfg := cfgMgr.Get()
	changed := false

	if port := viper.GetInt("server_port"); port > 0 && port != cfg.ServerPort {
		cfg.ServerPort = port
		changed = true
	}
	if driver := viper.GetString("camera.driver"); driver != "" && driver != cfg.Camera.Driver {
		cfg.Camera.Driver = driver
		changed = true
	}
	if base := viper.GetString("storage.base_path"); base != "" && base != cfg.Storage.BasePath {
		cfg.Storage.BasePath = base
		changed = true
	}
	if cmd.Flags().Changed("gps") {
		if enabled := viper.GetBool("gps.enabled"); enabled != cfg.GPS.Enabled {
			cfg.GPS.Enabled = enabled
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return cfgMgr.Update(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyServeOverrides(cmd, cfgMgr); err != nil {
		return err
	}
	cfg := cfgMgr.Get()
	log := logger.WithComponent("serve")

	log.Info().
		Str("config", cfgMgr.GetConfigPath()).
		Str("driver", cfg.Camera.Driver).
		Bool("gps", cfg.GPS.Enabled).
		Str("base_path", cfg.Storage.BasePath).
		Msg("FieldScan starting")

	rigMgr := rig.NewManager(cfgMgr, buildRegistry(cfg))
	if err := rigMgr.Start(); err != nil {
		log.Warn().Err(err).Msg("Rig not started, control server will come up anyway")
	}

	server := api.NewServer(rigMgr, cfgMgr)
	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Fatal().Err(err).Msg("Control server failed")
		}
	}()

	log.Info().
		Str("dashboard", fmt.Sprintf("http://localhost:%d", cfg.ServerPort)).
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort)).
		Msg("FieldScan is running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Control server shutdown failed")
	}
	if rigMgr.Running() {
		if err := rigMgr.Stop(); err != nil {
			log.Error().Err(err).Msg("Rig stop failed")
		}
	}
	return nil
}
