package discovery

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/pluvion/provision/internal/device"
)

func newEntry(instance, host string, port int, v4 []net.IP, v6 []net.IP, txt []string) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry(instance, ServiceType, ServiceDomain)
	entry.HostName = host
	entry.Port = port
	entry.AddrIPv4 = v4
	entry.AddrIPv6 = v6
	entry.Text = txt
	return entry
}

func TestScanner_parseServiceEntry(t *testing.T) {
	scanner := NewScanner()

	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantChip uint32
		wantIP   string
		wantPort int
	}{
		{
			name:     "station with IPv4",
			entry:    newEntry("PluviOn_10597059", "pluvion.local.", 80, []net.IP{net.ParseIP("192.168.4.1")}, nil, []string{"fw=1.4.2"}),
			wantChip: 10597059,
			wantIP:   "192.168.4.1",
			wantPort: 80,
		},
		{
			name:     "custom port",
			entry:    newEntry("PluviOn_1", "", 8080, []net.IP{net.ParseIP("10.0.0.5")}, nil, nil),
			wantChip: 1,
			wantIP:   "10.0.0.5",
			wantPort: 8080,
		},
		{
			name:     "no port specified (should default to 80)",
			entry:    newEntry("PluviOn_2", "", 0, []net.IP{net.ParseIP("172.16.0.1")}, nil, nil),
			wantChip: 2,
			wantIP:   "172.16.0.1",
			wantPort: 80,
		},
		{
			name:     "IPv6 only",
			entry:    newEntry("PluviOn_3", "", 80, nil, []net.IP{net.ParseIP("fe80::1")}, nil),
			wantChip: 3,
			wantIP:   "fe80::1",
			wantPort: 80,
		},
		{
			name:     "both families (should prefer IPv4)",
			entry:    newEntry("PluviOn_4", "", 80, []net.IP{net.ParseIP("192.168.1.50")}, []net.IP{net.ParseIP("fe80::2")}, nil),
			wantChip: 4,
			wantIP:   "192.168.1.50",
			wantPort: 80,
		},
		{
			name:    "other http service",
			entry:   newEntry("printer", "", 80, []net.IP{net.ParseIP("192.168.1.1")}, nil, nil),
			wantNil: true,
		},
		{
			name:    "no IP address",
			entry:   newEntry("PluviOn_5", "", 80, nil, nil, nil),
			wantNil: true,
		},
		{
			name:    "chip id overflow",
			entry:   newEntry("PluviOn_99999999999", "", 80, []net.IP{net.ParseIP("192.168.1.1")}, nil, nil),
			wantNil: true,
		},
		{
			name:    "nil entry",
			entry:   nil,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			station := scanner.parseServiceEntry(tt.entry)

			if tt.wantNil {
				if station != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", station)
				}
				return
			}
			if station == nil {
				t.Fatal("parseServiceEntry() = nil, want station")
			}
			if station.ChipID != tt.wantChip {
				t.Errorf("station.ChipID = %v, want %v", station.ChipID, tt.wantChip)
			}
			if station.IP != tt.wantIP {
				t.Errorf("station.IP = %v, want %v", station.IP, tt.wantIP)
			}
			if station.Port != tt.wantPort {
				t.Errorf("station.Port = %v, want %v", station.Port, tt.wantPort)
			}
			if station.StationID != tt.entry.Instance {
				t.Errorf("station.StationID = %v, want %v", station.StationID, tt.entry.Instance)
			}
			if time.Since(station.DiscoveredAt) > time.Second {
				t.Errorf("station.DiscoveredAt is not recent: %v", station.DiscoveredAt)
			}
		})
	}
}

func TestScanner_parseServiceEntry_Metadata(t *testing.T) {
	entry := newEntry("PluviOn_7", "", 80, []net.IP{net.ParseIP("192.168.4.1")}, nil,
		[]string{"path=/", "fw=1.4.2", "mac=5E:CF:7F:00:00:07", "flag"})

	station := NewScanner().parseServiceEntry(entry)
	if station == nil {
		t.Fatal("parseServiceEntry() = nil, want station")
	}

	want := map[string]string{
		"path": "/",
		"fw":   "1.4.2",
		"mac":  "5E:CF:7F:00:00:07",
		"flag": "",
	}
	if !reflect.DeepEqual(station.Metadata, want) {
		t.Errorf("station.Metadata = %v, want %v", station.Metadata, want)
	}
	if station.FirmwareVersion() != "1.4.2" || station.MAC() != "5E:CF:7F:00:00:07" {
		t.Errorf("FirmwareVersion() = %q, MAC() = %q", station.FirmwareVersion(), station.MAC())
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()
	if scanner.Timeout != DefaultScanTimeout {
		t.Errorf("scanner.Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
}

func TestInstancePattern(t *testing.T) {
	tests := []struct {
		instance    string
		shouldMatch bool
		chip        string
	}{
		{"PluviOn_10597059", true, "10597059"},
		{"PluviOn_1", true, "1"},
		{"pluvion_1", false, ""}, // case matters
		{"PluviOn_", false, ""},  // no chip id
		{"PluviOn_abc", false, ""},
		{"ESP10597059", false, ""},
		{"", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.instance, func(t *testing.T) {
			matches := instancePattern.FindStringSubmatch(tt.instance)
			if tt.shouldMatch {
				if len(matches) < 2 {
					t.Errorf("instancePattern did not match %q", tt.instance)
				} else if matches[1] != tt.chip {
					t.Errorf("instancePattern matched %q with chip %q, want %q", tt.instance, matches[1], tt.chip)
				}
			} else if matches != nil {
				t.Errorf("instancePattern matched %q, want no match", tt.instance)
			}
		})
	}
}

func TestTXTRecords(t *testing.T) {
	tests := []struct {
		name string
		id   device.Identity
		want []string
	}{
		{"full", device.Identity{FirmwareVersion: "1.4.2", MAC: "AA"}, []string{"path=/", "fw=1.4.2", "mac=AA"}},
		{"no firmware", device.Identity{MAC: "AA"}, []string{"path=/", "mac=AA"}},
		{"empty", device.Identity{}, []string{"path=/"}},
	}
	for _, tt := range tests {
		if got := TXTRecords(tt.id); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: TXTRecords() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStation_PortalURL(t *testing.T) {
	tests := []struct {
		station  *Station
		expected string
	}{
		{&Station{IP: "192.168.4.1", Port: 80}, "http://192.168.4.1"},
		{&Station{IP: "10.0.0.5", Port: 8080}, "http://10.0.0.5:8080"},
	}
	for _, tt := range tests {
		if got := tt.station.PortalURL(); got != tt.expected {
			t.Errorf("PortalURL() = %v, want %v", got, tt.expected)
		}
	}
}

func TestStation_String(t *testing.T) {
	s := &Station{StationID: "PluviOn_7", IP: "192.168.4.1", Port: 80}
	want := "Pluvi.On station PluviOn_7 at 192.168.4.1:80"
	if s.String() != want {
		t.Errorf("String() = %v, want %v", s.String(), want)
	}
	if s.GetMetadata("fw") != "" {
		t.Error("GetMetadata() on nil metadata should be empty")
	}
}
