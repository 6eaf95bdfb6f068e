package discovery

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/pluvion/provision/internal/device"
	"github.com/pluvion/provision/internal/logging"
)

const (
	// ServiceType is the mDNS service type stations advertise their
	// portal under
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for station discovery
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is the default portal HTTP port
	DefaultPort = 80
)

// instancePattern matches station instance names (e.g., "PluviOn_10597059")
var instancePattern = regexp.MustCompile(`^PluviOn_(\d+)$`)

// Scanner handles mDNS station discovery
type Scanner struct {
	// Timeout is the maximum time to wait for station discovery
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// ScanForStations discovers all stations on the local network until the
// timeout elapses or ctx is cancelled.
func (s *Scanner) ScanForStations(ctx context.Context) ([]*Station, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu       sync.Mutex
		stations = make([]*Station, 0)
		seen     = make(map[string]bool)
		done     = make(chan struct{})
	)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		defer close(done)
		for entry := range entries {
			station := s.parseServiceEntry(entry)
			if station == nil {
				continue
			}
			mu.Lock()
			if !seen[station.StationID] {
				seen[station.StationID] = true
				stations = append(stations, station)
				logging.Debug("Station discovered",
					zap.String("station", station.StationID),
					zap.String("ip", station.IP))
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once the browse context ends.
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Station(nil), stations...), nil
}

// WaitForStation waits for a specific station by id.
func (s *Scanner) WaitForStation(ctx context.Context, stationID string) (*Station, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Station, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			station := s.parseServiceEntry(entry)
			if station != nil && station.StationID == stationID {
				select {
				case found <- station:
				default:
				}
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case station := <-found:
		return station, nil
	case <-ctx.Done():
		select {
		case station := <-found:
			return station, nil
		default:
		}
		return nil, fmt.Errorf("station %s not found within timeout", stationID)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Station.
// Returns nil if the entry is not a Pluvi.On station.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Station {
	if entry == nil {
		return nil
	}
	matches := instancePattern.FindStringSubmatch(entry.Instance)
	if len(matches) < 2 {
		return nil
	}
	chip, err := strconv.ParseUint(matches[1], 10, 32)
	if err != nil {
		return nil
	}

	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Station{
		StationID:    entry.Instance,
		ChipID:       uint32(chip),
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// TXTRecords builds the TXT data a station advertises.
func TXTRecords(id device.Identity) []string {
	txt := []string{"path=/"}
	if id.FirmwareVersion != "" {
		txt = append(txt, "fw="+id.FirmwareVersion)
	}
	if id.MAC != "" {
		txt = append(txt, "mac="+id.MAC)
	}
	return txt
}

// Advertiser registers a station's portal over mDNS so that operators can
// find it with Scanner.
type Advertiser struct {
	// Interfaces restricts the announcement; nil means all.
	Interfaces []net.Interface
}

// Advertise announces the portal of id on port. The returned function
// withdraws the announcement.
func (a *Advertiser) Advertise(id device.Identity, port int) (func(), error) {
	server, err := zeroconf.Register(id.StationID, ServiceType, ServiceDomain, port, TXTRecords(id), a.Interfaces)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("Advertising portal over mDNS",
		zap.String("instance", id.StationID),
		zap.Int("port", port))
	return server.Shutdown, nil
}

// ScanForStations is a convenience function to scan with a custom timeout
func ScanForStations(timeout time.Duration) ([]*Station, error) {
	scanner := NewScanner()
	scanner.Timeout = timeout
	return scanner.ScanForStations(context.Background())
}

// QuickScan performs a fast scan with a 3-second timeout
func QuickScan() ([]*Station, error) {
	return ScanForStations(3 * time.Second)
}
