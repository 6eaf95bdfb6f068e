package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/pluvion/provision/internal/keystore"
	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/portal"
	"github.com/pluvion/provision/internal/stationconfig"
	"github.com/pluvion/provision/internal/ui"
	"github.com/pluvion/provision/internal/version"
)

// errNotConnected makes the process exit non-zero so a supervisor can
// restart provisioning.
var errNotConnected = errors.New("station is not connected")

// Provisioning flags
var (
	apName     string
	apPassword string
)

// Scan flags
var (
	scanTimeout time.Duration
	scanAll     bool
)

// Config and reset flags
var (
	showYAML   bool
	forceSet   bool
	assumeYes  bool
	forgetWiFi bool
)

func init() {
	for _, c := range []*cobra.Command{runCmd, portalCmd} {
		c.Flags().StringVar(&apName, "ap-name", "", "Access point name (default: config, then station id)")
		c.Flags().StringVar(&apPassword, "ap-password", "", "Access point password, 8-63 chars (default: config)")
	}
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 15*time.Second, "Scan timeout")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show duplicates and networks below the quality threshold")

	configShowCmd.Flags().BoolVar(&showYAML, "yaml", false, "Print settings as YAML")
	configSetCmd.Flags().BoolVar(&forceSet, "force", false, "Save values that fail validation")
	configFormatCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	resetCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	resetCmd.Flags().BoolVar(&forgetWiFi, "wifi", false, "Also forget the saved WiFi network")

	configCmd.AddCommand(configShowCmd, configGetCmd, configSetCmd, configLsCmd, configFormatCmd)
	rootCmd.AddCommand(runCmd, portalCmd, scanCmd, configCmd, resetCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join the saved network, falling back to the setup portal",
	Long: `Join the WiFi network the radio remembers. If that fails, raise the
access point and serve the captive portal until new credentials work, the
portal times out, or the process is interrupted.

When status.addr is set in the configuration, provisioning events are
streamed there for 'pluvion-cfg monitor'.`,
	Example: `  # Provision with the default configuration
  pluvion-provision run

  # Use a custom configuration and a protected access point
  pluvion-provision run --config /etc/pluvion/provisioner.yaml --ap-password pluvion123`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return provisionStation(cmd, false)
	},
}

var portalCmd = &cobra.Command{
	Use:   "portal",
	Short: "Open the setup portal without trying the saved network",
	Example: `  # Reconfigure a station that is already online
  pluvion-provision portal`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return provisionStation(cmd, true)
	},
}

func provisionStation(cmd *cobra.Command, portalOnly bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := buildStack(cfg)
	if err != nil {
		return err
	}

	if s.repo.FirmwareVersion() != version.Version {
		s.repo.SaveFirmwareVersion(version.Version)
	}

	name := apName
	if name == "" {
		name = s.apName()
	}
	password := apPassword
	if password == "" {
		password = cfg.Portal.APPassword
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if s.feed != nil {
		g.Go(func() error { return s.feed.Run(gctx) })
	}

	var connected bool
	g.Go(func() error {
		// The feed stops once provisioning ends.
		defer cancel()
		if portalOnly {
			connected = s.controller.StartPortal(gctx, name, password)
		} else {
			connected = s.controller.AutoConnect(gctx, name, password)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	state := s.controller.State().String()
	switch {
	case connected:
		p.PrintSuccess("Station online", map[string]string{
			"Network": s.driver.ConnectedSSID(),
			"IP":      s.driver.LocalIP().String(),
			"State":   state,
		})
		return nil
	case sigCtx.Err() != nil:
		p.PrintWarning("Provisioning interrupted", map[string]string{"State": state})
		return nil
	default:
		p.PrintError("Station not connected", fmt.Errorf("provisioning ended in state %s", state), []string{
			"Check that the network is in range and the password is right",
			"Raise portal.timeout to give more time for configuration",
			"Run 'pluvion-provision scan' to see what the radio can hear",
		})
		return errNotConnected
	}
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List the WiFi networks the radio can see",
	Long: `Scan for WiFi networks and list them strongest first, the way the
portal's network page shows them. Duplicates and networks below
portal.min_signal_quality are hidden unless --all is given.`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	driver, err := newDriver(cfg.Radio)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), scanTimeout)
	defer cancel()

	networks, err := driver.Scan(ctx)
	p := ui.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		p.PrintError("Scan failed", err, []string{
			"Check that radio.interface names a WiFi device",
			"NetworkManager must be running for the nmcli driver",
		})
		return err
	}
	networks = portal.PrepareNetworks(networks, cfg.Portal.RemoveDuplicates && !scanAll)

	var rows [][]string
	for _, n := range networks {
		quality := portal.SignalQuality(n.RSSI)
		if !scanAll && !portal.Visible(quality, cfg.Portal.MinSignalQuality) {
			continue
		}
		security := "open"
		if n.Encrypted {
			security = "secured"
		}
		rows = append(rows, []string{n.SSID, strconv.Itoa(quality) + "%", strconv.Itoa(n.RSSI) + " dBm", security})
	}

	if len(rows) == 0 {
		p.PrintWarning("No networks found", map[string]string{"Interface": cfg.Radio.Interface})
		return nil
	}
	p.PrintTable([]string{"SSID", "QUALITY", "RSSI", "SECURITY"}, rows)
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write the station settings on flash",
	Long: `Read and write the station settings the portal manages. Settings are
stored one value per key under storage.root, shared with the sensor
firmware.

Keys: latitude, longitude, bucket-volume, reset-countdown, station-name,
firmware-version (short forms: lat, lon, vol, ttr, name).`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show every station setting",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadStack()
		if err != nil {
			return err
		}
		snap := s.repo.Snapshot()

		if showYAML {
			data, err := yaml.Marshal(snap)
			if err != nil {
				return fmt.Errorf("failed to marshal settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}

		p := ui.NewPrinter(cmd.OutOrStdout())
		var rows [][]string
		for _, key := range keystore.AllKeys {
			value := s.repo.Get(key)
			if value == "" {
				value = "(unset)"
			}
			rows = append(rows, []string{key.String(), value})
		}
		p.PrintTable([]string{"KEY", "VALUE"}, rows)

		if !s.repo.StorageHealthy() {
			p.PrintWarning("Flash storage did not mount", map[string]string{"Root": s.cfg.Storage.Root})
		}
		if warnings := stationconfig.ValidateSnapshot(snap); len(warnings) > 0 {
			details := make(map[string]string, len(warnings))
			for _, w := range warnings {
				var vw *stationconfig.ValidationWarning
				if errors.As(w, &vw) {
					details[vw.Field] = vw.Message
				}
			}
			p.PrintWarning("Settings the portal form would reject", details)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one station setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := keystore.ParseKey(args[0])
		if err != nil {
			return err
		}
		s, err := loadStack()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.repo.Get(key))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Replace one station setting",
	Example: `  pluvion-provision config set name estacao-01

  # Negative values follow "--" so they are not read as flags
  pluvion-provision config set lat -- -23.5505`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := keystore.ParseKey(args[0])
		if err != nil {
			return err
		}
		value := args[1]
		if err := stationconfig.Validate(key.String(), value); err != nil && !forceSet {
			return fmt.Errorf("%w (use --force to save anyway)", err)
		}

		s, err := loadStack()
		if err != nil {
			return err
		}
		if !s.repo.Save(key, value) {
			return fmt.Errorf("failed to save %s", key)
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Setting saved", map[string]string{
			key.String(): s.repo.Get(key),
		})
		return nil
	},
}

var configLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List every entry on the flash store",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadStack()
		if err != nil {
			return err
		}
		entries, err := s.store.Entries()
		if err != nil {
			return fmt.Errorf("failed to list flash entries: %w", err)
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e})
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintTable([]string{"ENTRY"}, rows)
		return nil
	},
}

var configFormatCmd = &cobra.Command{
	Use:   "format",
	Short: "Erase the whole flash store, firmware version included",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadStack()
		if err != nil {
			return err
		}
		if !assumeYes && !ui.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "FORMAT FLASH STORE",
			[]string{"Every entry under " + s.cfg.Storage.Root + " will be erased"}, "FORMAT") {
			return nil
		}
		if err := s.store.Format(); err != nil {
			return fmt.Errorf("failed to format flash store: %w", err)
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Flash store formatted", nil)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the station settings",
	Long: `Delete every station setting except the firmware version. With --wifi
the saved WiFi network is forgotten too, so the next 'run' opens the
portal straight away.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadStack()
		if err != nil {
			return err
		}
		if !assumeYes && !ui.ConfirmReset(cmd.InOrStdin(), cmd.OutOrStdout(), s.cfg.Storage.Root, forgetWiFi) {
			return nil
		}

		details := map[string]string{"Storage": s.cfg.Storage.Root}
		if !s.repo.Reset() {
			return fmt.Errorf("some settings could not be deleted under %s", s.cfg.Storage.Root)
		}
		if forgetWiFi {
			details["WiFi"] = "forgotten"
			if err := s.controller.ResetSettings(); err != nil {
				logging.Warn("Failed to forget WiFi network", zap.Error(err))
				details["WiFi"] = "not forgotten: " + err.Error()
			}
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Station settings deleted", details)
		return nil
	},
}

func loadStack() (*stack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildStack(cfg)
}
