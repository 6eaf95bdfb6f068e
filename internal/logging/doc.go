// Package logging provides structured logging for the Pluvi.On provisioner.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used by the portal, the storage layer and the
// provisioning state machine.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: per-request detail (DNS answers, HTTP requests, storage ops)
//   - Info: state transitions, portal start/stop, connection results
//   - Warn: swallowed storage failures, ignored AP passwords
//   - Error: listener failures, driver errors
//
// # Configuration
//
// The level is taken from the argument to Initialize or from the
// PLUVION_LOG_LEVEL environment variable. With neither set, logging is
// silent so CLI output stays clean:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Storage Failures
//
// The flash store deliberately degrades failures to "unset" values. Every
// such failure goes through LogStorage so the degradation stays visible:
//
//	logging.LogStorage("write", "/stt/lat", "-23.55", err)
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. Initialize and
// SetLogger are expected to be called once at startup.
package logging
