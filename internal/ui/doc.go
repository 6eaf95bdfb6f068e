// Package ui provides terminal UI components for the Pluvi.On CLIs.
//
// Most commands follow a "run once and exit" pattern: a Printer writes a
// header, tables and a result box, and the command returns. The monitor is
// the one interactive screen, a Bubble Tea program fed by the status feed.
//
// # Components
//
//   - Header: command banner showing operation name and parameters
//   - Result: success, failure and warning boxes with sorted details
//   - Table: aligned columns for scan results and flash listings
//   - Progress: the four provisioning steps with a progress bar
//   - MonitorModel: live view of one station's provisioning events
//   - Confirm: typed confirmation before destructive commands
//
// Example:
//
//	p := ui.NewPrinter(os.Stdout)
//	p.PrintHeader("Station Reset", "pluvion-provision reset", map[string]string{
//	    "Storage": "/var/lib/pluvion/flash",
//	})
//	p.PrintSuccess("Station configuration deleted", nil)
//
// # Logging Integration
//
// This package expects logging to be controlled via the PLUVION_LOG_LEVEL
// environment variable. When unset or empty, zap logging is silent, so the
// styled output is not interleaved with log lines.
package ui
