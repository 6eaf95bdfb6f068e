// Package netconnect joins a WiFi network through a radio.Driver and
// reports the outcome as a Result.
//
// Connect is idempotent with respect to an established link: when the
// station is already connected it returns Connected without touching the
// radio. Otherwise it joins the given network or resumes the saved one and
// polls the driver every 100ms until the attempt ends or the timeout runs
// out. A timeout is a normal outcome, not an error.
package netconnect
