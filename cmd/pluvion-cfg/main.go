// Pluvion-cfg finds Pluvi.On stations and follows their provisioning.
//
// It lists the stations advertising over mDNS on the local network and
// attaches to a station's status feed to show, live, whether it joined
// its saved network or is waiting in the setup portal.
//
// Usage:
//
//	pluvion-cfg [command] [flags]
//
// See 'pluvion-cfg --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Sync()
		os.Exit(1)
	}
	logging.Sync()
}

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "pluvion-cfg",
	Short: "Pluvi.On station discovery and monitoring",
	Long: `Finds Pluvi.On stations on the local network and follows their
provisioning.

Join the station's access point (or the network it is on) and run
'pluvion-cfg discover' to list it, then 'pluvion-cfg monitor' to watch it.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pluvion-cfg %s\n", version.Full())
	},
}
