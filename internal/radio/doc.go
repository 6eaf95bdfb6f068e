// Package radio defines the WiFi radio collaborator used by the
// provisioner and two implementations of it.
//
// Simulator is an in-process radio with scripted networks and passwords.
// Tests use it throughout, and the daemon can run against it
// (radio.driver: simulator) to exercise the portal on a workstation.
//
// NMCli drives a real interface on Linux nodes through NetworkManager's
// command line client. Its Status values follow the ESP8266 station
// states so that the connector behaves the same on both.
package radio
