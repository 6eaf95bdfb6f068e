// Package portal implements the captive configuration portal of a Pluvi.On
// station.
//
// When the station cannot join a network it raises its own access point
// and runs this portal on it. Every DNS name resolves to the portal
// address and every HTTP request for a host name is redirected to it, so a
// phone joining the access point pops up the configuration page on its
// own.
//
// # Routes
//
//	/, /fwlink                        station settings form
//	/wifi                             network list (scans) and WiFi form
//	/0wifi                            WiFi form without scanning
//	/wifisave                         take credentials, show a summary
//	/savePluviOnConfig                store station settings
//	/i                                diagnostics
//	/r                                reboot after RebootDelay
//
// Anything else gets a plain-text 404 listing the request arguments.
//
// # Scheduling
//
// The DNS and HTTP listeners run on their own goroutines but only park
// incoming work. Tick serves at most one DNS query and one HTTP request on
// the calling goroutine and returns immediately when nothing is waiting:
//
//	srv := portal.New(driver, repo, portal.DefaultOptions())
//	if err := srv.Start("PluviOn_Setup", ""); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//	for !srv.Session().Submitted() {
//	    srv.Tick()
//	    runtime.Gosched()
//	}
//
// Handlers, the Session and the station settings are therefore only
// touched by the goroutine calling Tick. Start, Stop and Tick must be
// called from that same goroutine.
//
// # Scanning
//
// Scan results are sorted strongest first (ties keep scan order),
// optionally reduced to the strongest entry per SSID, and filtered by
// SignalQuality against Options.MinQuality when rendered. A Scanner
// limits how often the radio actually scans.
package portal
