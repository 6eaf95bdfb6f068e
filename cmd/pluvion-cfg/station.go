package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pluvion/provision/internal/stationclient"
	"github.com/pluvion/provision/internal/ui"
)

// Station command flags
var (
	stationAddr    string
	requestTimeout time.Duration
	noVerify       bool
	settings       stationclient.Settings
	creds          stationclient.Credentials
	extraParams    []string
)

func init() {
	for _, c := range []*cobra.Command{infoCmd, configureCmd, wifiCmd, rebootCmd} {
		c.Flags().StringVar(&stationAddr, "station", stationclient.DefaultAddr, "Station portal address (IP, host:port or URL)")
		c.Flags().DurationVar(&requestTimeout, "timeout", stationclient.DefaultTimeout, "HTTP request timeout")
	}

	configureCmd.Flags().StringVar(&settings.Name, "name", "", "Station name (a-z, 0-9, '-', '_')")
	configureCmd.Flags().StringVar(&settings.Latitude, "lat", "", "Latitude in decimal degrees")
	configureCmd.Flags().StringVar(&settings.Longitude, "lon", "", "Longitude in decimal degrees")
	configureCmd.Flags().StringVar(&settings.BucketVolume, "vol", "", "Bucket calibration, 2.00 to 5.00")
	configureCmd.Flags().StringVar(&settings.ResetCountdown, "ttr", "", "Milliseconds until the daily counter reset")
	configureCmd.Flags().BoolVar(&noVerify, "no-verify", false, "Do not read the settings back")

	wifiCmd.Flags().StringVar(&creds.SSID, "ssid", "", "Network name")
	wifiCmd.Flags().StringVar(&creds.Passphrase, "password", "", "Network password (empty for open networks)")
	wifiCmd.Flags().StringVar(&creds.StaticIP, "ip", "", "Static IP for the station")
	wifiCmd.Flags().StringVar(&creds.Gateway, "gateway", "", "Static gateway")
	wifiCmd.Flags().StringVar(&creds.Subnet, "subnet", "", "Static subnet mask")
	wifiCmd.Flags().StringArrayVar(&extraParams, "param", nil, "Extra portal field as id=value (repeatable)")

	rootCmd.AddCommand(infoCmd, configureCmd, wifiCmd, rebootCmd)
}

func newStationClient() (*stationclient.Client, error) {
	client, err := stationclient.New(stationAddr)
	if err != nil {
		return nil, err
	}
	client.SetTimeout(requestTimeout)
	return client, nil
}

// printStationError prints err with hints and returns it.
func printStationError(cmd *cobra.Command, title string, err error) error {
	ui.NewPrinter(cmd.OutOrStdout()).PrintError(title, err, stationclient.Troubleshooting(err))
	return err
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show a station's identity and settings",
	Example: `  # Station on its own access point
  pluvion-cfg info

  # Station found with 'discover'
  pluvion-cfg info --station 10.0.0.23`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newStationClient()
		if err != nil {
			return err
		}
		info, err := client.Info(cmd.Context())
		if err != nil {
			return printStationError(cmd, "Cannot read station info", err)
		}

		storage := "ok"
		if !info.StorageHealthy {
			storage = "mount failed"
		}
		rows := [][]string{
			{"Station", info.StationID},
			{"Firmware", orDash(info.FirmwareVersion)},
			{"Name", orDash(info.Name)},
			{"Latitude", orDash(info.Latitude)},
			{"Longitude", orDash(info.Longitude)},
			{"Bucket volume", orDash(info.BucketVolume)},
			{"Reset countdown", orDash(info.ResetCountdown)},
			{"Chip ID", strconv.FormatUint(uint64(info.ChipID), 10)},
			{"Flash", fmt.Sprintf("%#08x, %d bytes", info.FlashChipID, info.FlashChipSize)},
			{"Storage", storage},
			{"AP", info.APIP + " " + info.APMAC},
			{"Station MAC", info.StationMAC},
			{"Session", orDash(info.SessionID)},
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintTable([]string{"FIELD", "VALUE"}, rows)
		return nil
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Save station settings through the portal",
	Long: `Post the station settings form: name, coordinates, bucket calibration
and reset countdown. Values are checked with the form's rules first, then
read back from the station; if they do not read back, the previous
settings are restored.

Flags that are not given keep the station's current value.`,
	Example: `  pluvion-cfg configure --name estacao-01 --lat=-23.5505 --lon=-46.6333 --vol 2.47`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newStationClient()
		if err != nil {
			return err
		}
		current, err := client.Info(cmd.Context())
		if err != nil {
			return printStationError(cmd, "Cannot read station settings", err)
		}
		next := mergeSettings(stationclient.SettingsFromInfo(current), cmd)

		p := ui.NewPrinter(cmd.OutOrStdout())
		if noVerify {
			if err := next.Validate(); err != nil {
				return printStationError(cmd, "Settings rejected", err)
			}
			if err := client.SaveSettings(cmd.Context(), next); err != nil {
				return printStationError(cmd, "Save failed", err)
			}
			p.PrintWarning("Settings sent, not verified", settingsDetails(next))
			return nil
		}

		result := client.SafeSave(cmd.Context(), next, nil)
		switch {
		case result.Success:
			p.PrintSuccess("Settings saved", settingsDetails(next))
			return nil
		case result.RolledBack:
			return printStationError(cmd, "Settings did not stick, previous values restored", result.Error)
		case result.RollbackError != nil:
			return printStationError(cmd, "Settings did not stick and could not be restored",
				errors.Join(result.Error, result.RollbackError))
		default:
			return printStationError(cmd, "Settings not saved", result.Error)
		}
	},
}

// mergeSettings overlays the flags the user gave on the station's values.
func mergeSettings(base stationclient.Settings, cmd *cobra.Command) stationclient.Settings {
	flags := cmd.Flags()
	if flags.Changed("name") {
		base.Name = settings.Name
	}
	if flags.Changed("lat") {
		base.Latitude = settings.Latitude
	}
	if flags.Changed("lon") {
		base.Longitude = settings.Longitude
	}
	if flags.Changed("vol") {
		base.BucketVolume = settings.BucketVolume
	}
	if flags.Changed("ttr") {
		base.ResetCountdown = settings.ResetCountdown
	}
	return base
}

func settingsDetails(s stationclient.Settings) map[string]string {
	return map[string]string{
		"Name":            orDash(s.Name),
		"Latitude":        orDash(s.Latitude),
		"Longitude":       orDash(s.Longitude),
		"Bucket volume":   orDash(s.BucketVolume),
		"Reset countdown": orDash(s.ResetCountdown),
	}
}

var wifiCmd = &cobra.Command{
	Use:   "wifi",
	Short: "Send WiFi credentials to a station",
	Long: `Post the WiFi form. The station answers, then closes its access point
and tries the network, so this computer loses the connection. Follow the
attempt with 'pluvion-cfg monitor' or find the station on the new network
with 'pluvion-cfg discover'.`,
	Example: `  pluvion-cfg wifi --ssid Casa --password segredo123

  # Static address and an extra portal field
  pluvion-cfg wifi --ssid Casa --password segredo123 \
    --ip 10.0.1.99 --gateway 10.0.1.1 --subnet 255.255.255.0 --param server=pluvion.com.br`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(extraParams)
		if err != nil {
			return err
		}
		submission := creds
		submission.Params = params
		if err := submission.Validate(); err != nil {
			return printStationError(cmd, "Credentials rejected", err)
		}

		client, err := newStationClient()
		if err != nil {
			return err
		}
		if err := client.SubmitCredentials(cmd.Context(), submission); err != nil {
			return printStationError(cmd, "Credentials not delivered", err)
		}

		details := map[string]string{"Network": submission.SSID}
		if submission.StaticIP != "" {
			details["Static IP"] = submission.StaticIP
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Credentials delivered", details)
		return nil
	},
}

// parseParams splits id=value pairs.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		id, value, ok := strings.Cut(pair, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --param %q: want id=value", pair)
		}
		params[id] = value
	}
	return params, nil
}

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Restart a station from its portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newStationClient()
		if err != nil {
			return err
		}
		if err := client.Reboot(cmd.Context()); err != nil {
			return printStationError(cmd, "Reboot request failed", err)
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Reboot scheduled", map[string]string{"Station": client.BaseURL})
		return nil
	},
}
