package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fieldscan/fieldscan/internal/camera"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List camera devices",
	Long: `List every camera device the configured drivers can open.

Enumeration covers real UVC hardware, the replay driver when a capture
directory is configured, and the synthetic test camera.`,
	Example: `  # List devices in table format (default)
  fieldscan devices

  # List devices in JSON format
  fieldscan devices --format json`,
	RunE: runDevices,
}

var devicesFormat string

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfgMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	devices := buildRegistry(cfgMgr.Get()).Devices()

	switch devicesFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	case "table":
		return printDevicesTable(devices)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", devicesFormat)
	}
}

func printDevicesTable(devices []camera.DeviceInfo) error {
	if len(devices) == 0 {
		fmt.Println("No camera devices found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tDRIVER")
	fmt.Fprintln(w, "--\t----\t------")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Name, d.Driver)
	}
	return nil
}
