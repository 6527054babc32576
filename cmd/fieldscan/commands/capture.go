package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldscan/fieldscan/internal/frame"
	"github.com/fieldscan/fieldscan/internal/rig"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Take a one-shot capture",
	Long: `Open the configured camera, save one capture of every stream and exit.

The rig runs just long enough to deliver a frame on each stream. GPS is
read when enabled, so the sidecar metadata carries a fix if the receiver
produces one in time.`,
	Example: `  # Capture with the configured camera
  fieldscan capture

  # Capture without waiting long for slow streams
  fieldscan capture --wait 2s`,
	RunE: runCapture,
}

var captureWait time.Duration

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().DurationVar(&captureWait, "wait", 5*time.Second, "how long to wait for all streams to deliver")
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfgMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rigMgr := rig.NewManager(cfgMgr, buildRegistry(cfgMgr.Get()))
	if err := rigMgr.Start(); err != nil {
		return err
	}
	defer rigMgr.Stop()

	// Streams fill in at their own rates; capture what arrived when the
	// wait runs out.
	deadline := time.Now().Add(captureWait)
	for time.Now().Before(deadline) {
		if len(rigMgr.Bundle()) == len(frame.Streams()) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	paths, err := rigMgr.CaptureNow()
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}

	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}
