package radio

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnsupported is returned by drivers for operations the hardware or
// host network stack cannot perform (for example WPS under NetworkManager).
var ErrUnsupported = errors.New("radio: operation not supported")

// Status is the station interface's connection state.
type Status int

const (
	StatusIdle Status = iota
	StatusNoSSID
	StatusScanCompleted
	StatusConnected
	StatusConnectFailed
	StatusConnectionLost
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusNoSSID:
		return "no-ssid"
	case StatusScanCompleted:
		return "scan-completed"
	case StatusConnected:
		return "connected"
	case StatusConnectFailed:
		return "connect-failed"
	case StatusConnectionLost:
		return "connection-lost"
	case StatusDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether a connection attempt has finished with s.
func (s Status) Terminal() bool {
	return s == StatusConnected || s == StatusConnectFailed
}

// Mode is the radio operating mode.
type Mode int

const (
	ModeOff Mode = iota
	ModeStation
	ModeAP
	ModeAPStation
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeStation:
		return "sta"
	case ModeAP:
		return "ap"
	case ModeAPStation:
		return "ap+sta"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Network is one scan result.
type Network struct {
	SSID      string
	RSSI      int // dBm
	Encrypted bool
}

// IPConfig is a static IPv4 configuration. The zero value means DHCP.
type IPConfig struct {
	IP      net.IP
	Gateway net.IP
	Subnet  net.IP
}

// IsSet reports whether a static address is configured.
func (c IPConfig) IsSet() bool {
	return c.IP != nil && !c.IP.IsUnspecified()
}

// ParseIPConfig parses dotted-decimal strings. An empty ip yields the zero
// config; a malformed address is an error.
func ParseIPConfig(ip, gateway, subnet string) (IPConfig, error) {
	if ip == "" {
		return IPConfig{}, nil
	}
	var cfg IPConfig
	for _, f := range []struct {
		name string
		in   string
		out  *net.IP
	}{
		{"ip", ip, &cfg.IP},
		{"gateway", gateway, &cfg.Gateway},
		{"subnet", subnet, &cfg.Subnet},
	} {
		if f.in == "" {
			continue
		}
		parsed := net.ParseIP(f.in).To4()
		if parsed == nil {
			return IPConfig{}, fmt.Errorf("invalid %s address %q", f.name, f.in)
		}
		*f.out = parsed
	}
	return cfg, nil
}

// Driver is the radio collaborator used by the connector and the portal.
// Implementations need not be safe for concurrent use; the provisioning
// loop calls them from one goroutine.
type Driver interface {
	SetMode(m Mode) error
	Mode() Mode

	// Status returns the current station state without blocking.
	Status() Status

	// Begin starts joining ssid and returns without waiting. The
	// credentials are remembered for BeginSaved.
	Begin(ssid, passphrase string) error

	// BeginSaved starts joining the remembered network.
	BeginSaved() error

	// SavedSSID returns the remembered network, or "".
	SavedSSID() string

	// Disconnect leaves the current network. With forget set the
	// remembered credentials are erased too.
	Disconnect(forget bool) error

	// WaitForConnectResult blocks until the attempt in progress ends, using
	// the driver's own timeout.
	WaitForConnectResult(ctx context.Context) Status

	ConfigureStation(cfg IPConfig) error
	ConfigureAP(cfg IPConfig) error
	StartAP(ssid, passphrase string) error
	StopAP() error

	Scan(ctx context.Context) ([]Network, error)

	// StartWPS runs a push-button WPS exchange and blocks until it ends.
	StartWPS(ctx context.Context) error

	LocalIP() net.IP
	APIP() net.IP
	ConnectedSSID() string
	MACAddress() string
	APMACAddress() string

	ChipID() uint32
	FlashChipID() uint32
	FlashChipSize() uint32

	Reboot() error
}
