// Pluvion-provision brings a Pluvi.On station online.
//
// It joins the WiFi network the radio remembers and, when that fails,
// raises an access point with a captive portal where the station is
// configured from a phone: WiFi credentials, coordinates, bucket volume
// and the daily reset time. Station settings are kept on the flash store
// shared with the sensor firmware.
//
// Usage:
//
//	pluvion-provision [command] [flags]
//
// See 'pluvion-provision --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pluvion/provision/internal/config"
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

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "pluvion-provision",
	Short: "Pluvi.On WiFi provisioning daemon",
	Long: `Brings a Pluvi.On station online.

The station first tries the WiFi network it remembers. When that fails it
raises an access point named after the station and serves a captive portal
where the network and the station settings are entered.

Use 'pluvion-cfg' from a laptop to find stations and watch their progress.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default: platform config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration and starts logging at the level it
// names, unless --log-level or PLUVION_LOG_LEVEL says otherwise.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := logLevel
	if level == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
		level = cfg.LogLevel
	}
	if err := logging.Initialize(level); err != nil {
		return nil, err
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pluvion-provision %s\n", version.Full())
	},
}
