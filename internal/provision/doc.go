// Package provision decides how a Pluvi.On station gets online.
//
// AutoConnect first tries the network the radio remembers. When that
// fails it calls StartPortal, which raises an access point named after the
// station and serves the captive portal until one of these happens:
//
//   - credentials submitted on /wifisave connect the station
//   - a submission fails and BreakAfterConfig is set
//   - PortalTimeout elapses (0 disables the timeout)
//   - the context is cancelled
//
// Either call blocks for the whole sequence. Each loop iteration is one
// Step: a timeout check, one portal Tick and, after a submission, the
// settle delay and a connection attempt. Between steps the controller
// yields, or sleeps TickInterval when one is configured.
//
// # Events
//
// Listeners registered with Subscribe are called synchronously on the
// controller goroutine:
//
//	ctrl.Subscribe(func(e provision.Event) {
//	    if e.Type == provision.EventSaveConfig {
//	        log.Printf("configured for %s", e.SSID)
//	    }
//	})
//
// EventAPModeEntered fires before the portal starts and EventSaveConfig
// at most once per portal run.
package provision
