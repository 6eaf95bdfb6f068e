package discovery

import (
	"fmt"
	"time"
)

// Station represents a Pluvi.On node found on the network, either running
// its setup portal or joined to a network with advertising enabled.
type Station struct {
	// StationID is the mDNS instance name (e.g., "PluviOn_10597059")
	StationID string

	// ChipID is the decimal chip id parsed from StationID
	ChipID uint32

	// Hostname is the mDNS hostname (e.g., "pluvion-10597059.local.")
	Hostname string

	// IP is the IPv4 address (e.g., "192.168.4.1")
	IP string

	// Port is the portal HTTP port (typically 80)
	Port int

	// Metadata contains the TXT record data
	// Fields: "fw=1.4.2", "mac=5E:CF:7F:A1:B2:C3", "path=/"
	Metadata map[string]string

	// DiscoveredAt is when the station was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the station
func (s *Station) String() string {
	return fmt.Sprintf("Pluvi.On station %s at %s:%d", s.StationID, s.IP, s.Port)
}

// PortalURL returns the HTTP base URL of the station's portal
func (s *Station) PortalURL() string {
	if s.Port == DefaultPort {
		return fmt.Sprintf("http://%s", s.IP)
	}
	return fmt.Sprintf("http://%s:%d", s.IP, s.Port)
}

// FirmwareVersion returns the advertised firmware version, or "".
func (s *Station) FirmwareVersion() string {
	return s.GetMetadata("fw")
}

// MAC returns the advertised soft-AP MAC address, or "".
func (s *Station) MAC() string {
	return s.GetMetadata("mac")
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (s *Station) GetMetadata(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}
