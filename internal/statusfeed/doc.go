// Package statusfeed streams provisioning events over a websocket.
//
// The daemon subscribes a Server to its controller and serves it on the
// status address from the configuration. Each event is sent as one JSON
// text message, the same encoding as provision.Event:
//
//	{"id":"…","type":"state_changed","timestamp":"2026-01-02T03:04:05Z",
//	 "state":"portal-running","previous":"opening-portal"}
//
// A client joining late first receives the most recent events (32 by
// default) so a monitor started mid-run still shows where the station is.
//
// The feed is one-way. Anything a client sends is read and discarded; the
// server pings every 54 seconds and drops clients that stop answering or
// fall too far behind.
package statusfeed
