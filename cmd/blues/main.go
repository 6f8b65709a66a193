package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Each call returns fresh commands and flags.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blues",
		Short: "Bluetooth Low Energy central CLI",
		Long: `Bluetooth Low Energy (BLE) central command-line tool that provides:

- Scan for nearby peripherals with service, address, name and RSSI filters
- Connect and list GATT services and characteristics
- Read from and write to characteristics
- Watch the ordered event stream of a peripheral
- Stream notification payloads to stdout

Every command also runs against a simulated radio described by a YAML
profile (--simulate), which is handy for demos and scripting tests.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),

		// main() prints clean errors
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newReadCmd())
	rootCmd.AddCommand(newWriteCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newStreamCmd())

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error), overrides the config file")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("simulate", "", "Run against a simulated radio described by this YAML profile")
	rootCmd.PersistentFlags().StringP("format", "f", "", "Output format (table, json), defaults to the config file")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
