package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/pluvion/provision/internal/device"
	"github.com/pluvion/provision/internal/discovery"
	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/statusfeed"
	"github.com/pluvion/provision/internal/ui"
)

// DefaultFeedAddr is where a station in portal mode serves its status feed
// when configured with status.addr ":8081".
const DefaultFeedAddr = "192.168.4.1:8081"

var (
	discoverTimeout time.Duration
	feedAddr        string
	plainOutput     bool
)

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 5*time.Second, "How long to listen for stations")
	waitCmd.Flags().DurationVar(&discoverTimeout, "timeout", 2*time.Minute, "How long to wait for the station")
	monitorCmd.Flags().StringVar(&feedAddr, "addr", DefaultFeedAddr, "Status feed address (host:port or ws:// URL)")
	monitorCmd.Flags().BoolVar(&plainOutput, "plain", false, "Print one line per event instead of the full-screen view")

	rootCmd.AddCommand(discoverCmd, waitCmd, monitorCmd)
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List Pluvi.On stations on the local network",
	Long: `Listen for mDNS announcements from Pluvi.On stations. Stations announce
themselves while their setup portal is up, so join the station's access
point (PluviOn_<chip id>) first.`,
	Example: `  # Listen for 5 seconds (default)
  pluvion-cfg discover

  # Slower networks
  pluvion-cfg discover --timeout 15s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stations, err := discovery.ScanForStations(discoverTimeout)
		p := ui.NewPrinter(cmd.OutOrStdout())
		if err != nil {
			p.PrintError("Discovery failed", err, []string{
				"Multicast DNS must be allowed on this interface",
			})
			return err
		}
		if len(stations) == 0 {
			p.PrintError("No stations found", errors.New("no mDNS announcements received"), discoverTroubleshooting())
			return nil
		}
		p.PrintTable([]string{"STATION", "ADDRESS", "FIRMWARE", "MAC", "PORTAL"}, stationRows(stations))
		return nil
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait <station-id>",
	Short: "Wait until a station announces its portal",
	Example: `  # Wait for a station that is rebooting into portal mode
  pluvion-cfg wait PluviOn_10597059`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := device.ParseStationID(args[0]); err != nil {
			return err
		}
		scanner := discovery.NewScanner()
		scanner.Timeout = discoverTimeout
		station, err := scanner.WaitForStation(cmd.Context(), args[0])
		p := ui.NewPrinter(cmd.OutOrStdout())
		if err != nil {
			p.PrintError("Station did not appear", err, discoverTroubleshooting())
			return err
		}
		p.PrintSuccess("Station found", stationDetails(station))
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Follow a station's provisioning progress",
	Long: `Attach to a station's status feed and show its provisioning steps as
they happen: the saved network attempt, the setup portal, submitted
credentials and the final connection. Events from before the attach are
replayed.`,
	Example: `  # Station in portal mode, default feed address
  pluvion-cfg monitor

  # Station already on the LAN
  pluvion-cfg monitor --addr 10.0.0.23:8081

  # Log-friendly output
  pluvion-cfg monitor --plain`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		client, err := statusfeed.Dial(ctx, feedAddr)
		cancel()
		if err != nil {
			ui.NewPrinter(cmd.OutOrStdout()).PrintError("Cannot reach status feed", err, []string{
				"Check that the station has status.addr set",
				"Join the station's access point or its network first",
				"Run 'pluvion-cfg discover' to find the station address",
			})
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logging.Debug("Feed close failed", zap.Error(err))
			}
		}()

		if plainOutput || !isTerminal(cmd.OutOrStdout()) {
			return followPlain(cmd.OutOrStdout(), client.Next)
		}
		return ui.RunMonitor(client.URL(), client.Next)
	},
}

// followPlain prints events until the feed ends. A closed feed is the
// normal way for a monitor to finish.
func followPlain(w io.Writer, next ui.EventSource) error {
	for {
		e, err := next()
		if err != nil {
			logging.Debug("Feed ended", zap.Error(err))
			return nil
		}
		fmt.Fprintf(w, "%s  %s\n", e.Timestamp.Format("15:04:05"), ui.DescribeEvent(e))
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

func stationRows(stations []*discovery.Station) [][]string {
	sorted := append([]*discovery.Station(nil), stations...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StationID < sorted[j].StationID })

	rows := make([][]string, 0, len(sorted))
	for _, s := range sorted {
		rows = append(rows, []string{
			s.StationID,
			s.IP + ":" + strconv.Itoa(s.Port),
			orDash(s.FirmwareVersion()),
			orDash(s.MAC()),
			s.PortalURL(),
		})
	}
	return rows
}

func stationDetails(s *discovery.Station) map[string]string {
	return map[string]string{
		"Station":  s.StationID,
		"Chip ID":  strconv.FormatUint(uint64(s.ChipID), 10),
		"Address":  s.IP + ":" + strconv.Itoa(s.Port),
		"Firmware": orDash(s.FirmwareVersion()),
		"MAC":      orDash(s.MAC()),
		"Portal":   s.PortalURL(),
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func discoverTroubleshooting() []string {
	return []string{
		"Ensure the station is powered and its portal is up",
		"Join the PluviOn_<chip id> access point",
		"Try a longer --timeout on busy networks",
	}
}
