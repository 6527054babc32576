package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fieldscan/fieldscan/internal/gps"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List candidate GPS serial ports",
	Long: `List serial ports a GPS receiver might be connected to.

Candidate ports match the known receiver device patterns and are tried in
the order shown when gps.port is left empty. The remaining system ports
are listed for diagnostics.`,
	Example: `  # List ports in table format (default)
  fieldscan ports

  # List ports in JSON format
  fieldscan ports --format json`,
	RunE: runPorts,
}

var portsFormat string

func init() {
	rootCmd.AddCommand(portsCmd)

	portsCmd.Flags().StringVarP(&portsFormat, "format", "f", "table", "output format (table or json)")
}

func runPorts(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}

	candidates := gps.DiscoverPorts()
	system, err := gps.SystemPorts()
	if err != nil {
		return fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	switch portsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string][]string{
			"candidates": candidates,
			"system":     system,
		})
	case "table":
		return printPortsTable(candidates, system)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", portsFormat)
	}
}

func printPortsTable(candidates, system []string) error {
	if len(candidates) == 0 && len(system) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	candidate := make(map[string]bool, len(candidates))
	for _, p := range candidates {
		candidate[p] = true
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "PORT\tCANDIDATE")
	fmt.Fprintln(w, "----\t---------")
	for _, p := range candidates {
		fmt.Fprintf(w, "%s\t%s\n", p, "Yes")
	}
	for _, p := range system {
		if candidate[p] {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", p, "No")
	}
	return nil
}
