package radio

import (
	"context"
	"net"
	"sync"
)

// DefaultSimulatorAPIP is the soft-AP address used when none is configured.
var DefaultSimulatorAPIP = net.IPv4(192, 168, 4, 1).To4()

// Simulator is an in-process Driver. Networks lists what a scan sees;
// Passwords holds the passphrase each reachable network accepts. A join
// attempt resolves after ConnectPolls calls to Status.
type Simulator struct {
	mu sync.Mutex

	Networks  []Network
	Passwords map[string]string

	// ConnectPolls is how many Status calls report idle before a join
	// attempt resolves.
	ConnectPolls int

	// WPSNetwork, when set, is joined by a successful StartWPS.
	WPSNetwork string

	// ScanErr, when set, fails Scan.
	ScanErr error

	Chip      uint32
	FlashID   uint32
	FlashSize uint32
	MAC       string
	APMAC     string

	mode      Mode
	status    Status
	pending   Status
	remaining int

	savedSSID string
	savedPass string
	current   string

	staCfg IPConfig
	apCfg  IPConfig
	apSSID string
	apPass string
	apUp   bool

	BeginCalls int
	WPSCalls   int
	ScanCalls  int
	Reboots    int
}

// NewSimulator returns a simulator with ESP-style identity values.
func NewSimulator() *Simulator {
	return &Simulator{
		Passwords: make(map[string]string),
		Chip:      0x00a1b2c3,
		FlashID:   0x001640e0,
		FlashSize: 4 << 20,
		MAC:       "5C:CF:7F:A1:B2:C3",
		APMAC:     "5E:CF:7F:A1:B2:C3",
		status:    StatusDisconnected,
		apCfg:     IPConfig{IP: DefaultSimulatorAPIP},
		mode:      ModeStation,
	}
}

// SetSaved pre-loads remembered credentials.
func (s *Simulator) SetSaved(ssid, passphrase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedSSID, s.savedPass = ssid, passphrase
}

// SetConnected forces the station into the connected state.
func (s *Simulator) SetConnected(ssid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.current, s.remaining = StatusConnected, ssid, 0
}

func (s *Simulator) SetMode(m Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	return nil
}

func (s *Simulator) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Simulator) statusLocked() Status {
	if s.remaining > 0 {
		s.remaining--
		if s.remaining == 0 {
			s.status = s.pending
		}
		return StatusIdle
	}
	return s.status
}

func (s *Simulator) visible(ssid string) bool {
	for _, n := range s.Networks {
		if n.SSID == ssid {
			return true
		}
	}
	return false
}

// beginLocked starts an attempt whose outcome is decided now and revealed
// after ConnectPolls status polls.
func (s *Simulator) beginLocked(ssid, passphrase string) {
	s.BeginCalls++
	want, known := s.Passwords[ssid]
	switch {
	case !s.visible(ssid):
		s.pending = StatusNoSSID
	case known && want == passphrase:
		s.pending = StatusConnected
		s.current = ssid
	default:
		s.pending = StatusConnectFailed
	}
	if s.pending != StatusConnected {
		s.current = ""
	}
	s.remaining = s.ConnectPolls
	if s.remaining == 0 {
		s.status = s.pending
	} else {
		s.status = StatusIdle
	}
}

func (s *Simulator) Begin(ssid, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedSSID, s.savedPass = ssid, passphrase
	s.beginLocked(ssid, passphrase)
	return nil
}

func (s *Simulator) BeginSaved() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginLocked(s.savedSSID, s.savedPass)
	return nil
}

func (s *Simulator) SavedSSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedSSID
}

func (s *Simulator) Disconnect(forget bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.current, s.remaining = StatusDisconnected, "", 0
	if forget {
		s.savedSSID, s.savedPass = "", ""
	}
	return nil
}

func (s *Simulator) WaitForConnectResult(ctx context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining > 0 {
		s.remaining = 0
		s.status = s.pending
	}
	return s.status
}

func (s *Simulator) ConfigureStation(cfg IPConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staCfg = cfg
	return nil
}

// StationConfig returns the last static configuration applied.
func (s *Simulator) StationConfig() IPConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staCfg
}

func (s *Simulator) ConfigureAP(cfg IPConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.IsSet() {
		s.apCfg = cfg
	}
	return nil
}

func (s *Simulator) StartAP(ssid, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apSSID, s.apPass, s.apUp = ssid, passphrase, true
	return nil
}

func (s *Simulator) StopAP() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apUp = false
	return nil
}

// AccessPoint reports the soft-AP state.
func (s *Simulator) AccessPoint() (ssid, passphrase string, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apSSID, s.apPass, s.apUp
}

func (s *Simulator) Scan(ctx context.Context) ([]Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScanCalls++
	if s.ScanErr != nil {
		return nil, s.ScanErr
	}
	return append([]Network(nil), s.Networks...), nil
}

func (s *Simulator) StartWPS(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WPSCalls++
	if s.WPSNetwork == "" {
		s.status = StatusConnectFailed
		return nil
	}
	s.savedSSID, s.savedPass = s.WPSNetwork, s.Passwords[s.WPSNetwork]
	s.beginLocked(s.savedSSID, s.savedPass)
	return nil
}

func (s *Simulator) LocalIP() net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnected {
		return net.IPv4zero.To4()
	}
	if s.staCfg.IsSet() {
		return s.staCfg.IP
	}
	return net.IPv4(192, 168, 1, 50).To4()
}

func (s *Simulator) APIP() net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apCfg.IP
}

func (s *Simulator) ConnectedSSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnected {
		return ""
	}
	return s.current
}

func (s *Simulator) MACAddress() string    { return s.MAC }
func (s *Simulator) APMACAddress() string  { return s.APMAC }
func (s *Simulator) ChipID() uint32        { return s.Chip }
func (s *Simulator) FlashChipID() uint32   { return s.FlashID }
func (s *Simulator) FlashChipSize() uint32 { return s.FlashSize }

func (s *Simulator) Reboot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reboots++
	return nil
}
