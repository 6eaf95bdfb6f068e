// Package discovery finds Pluvi.On stations on the local network over mDNS
// and lets a station announce its setup portal.
//
// Stations register the "_http._tcp" service type with their station id
// ("PluviOn_<chip id>") as the instance name. TXT records carry the
// firmware version ("fw=") and the soft-AP MAC address ("mac=").
//
// # Usage Example
//
//	stations, err := discovery.ScanForStations(5 * time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, s := range stations {
//	    fmt.Printf("Found: %s at %s\n", s.StationID, s.PortalURL())
//	}
//
// A station in portal mode is reachable only by clients joined to its
// access point, so discovery from the operator's side only works once
// the operator's machine has joined that network.
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Stations must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
