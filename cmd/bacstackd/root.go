// Package main implements bacstackd (A3): a small daemon/CLI that wires an
// RS-485 (or mock) driver into an MS/TP port, starts the dispatcher and TSM
// above it, serves Prometheus metrics and the management API, and offers an
// inspect subcommand for reading a running instance's state.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "bacstackd",
	Short:         "bacstackd - BACnet MS/TP data-link and transaction daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to an INI config file (default: built-in defaults)")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("bacstackd %s (%s)\n", version, commit)
		return nil
	},
}
