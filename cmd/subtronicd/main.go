// Subtronicd is the fleet configuration daemon for Subtronic IoT devices.
//
// It bridges the operator console to the device broker: staged settings
// edits accumulate per device, are delivered as complete configuration
// frames over MQTT, and every delivery is tracked until the device
// acknowledges it or times out. The console talks to the daemon over a
// REST API and a WebSocket acknowledgment feed.
//
// Usage:
//
//	subtronicd [command] [flags]
//
// See 'subtronicd --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zeptac/subtronic-fleet/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "subtronicd",
	Short: "Subtronic Fleet Configuration Daemon",
	Long: `The backend daemon for the Subtronic fleet console.

Manages per-device configuration staging, delivers complete settings
frames to devices over the MQTT broker, and tracks acknowledgment of
every delivered command.`,
	Version: version.Version,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("subtronicd %s (commit: %s)\n", version.Version, version.Commit)
	},
}
