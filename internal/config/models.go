package config

import (
	"fmt"
	"time"

	"github.com/pluvion/provision/internal/radio"
	"github.com/pluvion/provision/internal/stationconfig"
)

// Radio driver names.
const (
	DriverNMCli     = "nmcli"
	DriverSimulator = "simulator"
)

// Config is the provisioner configuration file.
type Config struct {
	Version  int           `yaml:"version"`
	LogLevel string        `yaml:"log_level,omitempty"`
	Portal   PortalConfig  `yaml:"portal"`
	Connect  ConnectConfig `yaml:"connect"`
	Storage  StorageConfig `yaml:"storage"`
	Radio    RadioConfig   `yaml:"radio"`
	Status   StatusConfig  `yaml:"status"`
	Params   []ParamConfig `yaml:"params,omitempty"`
}

// PortalConfig configures the captive portal and the loop around it.
type PortalConfig struct {
	// APName defaults to the station id when empty.
	APName     string `yaml:"ap_name,omitempty"`
	APPassword string `yaml:"ap_password,omitempty"`

	Timeout          time.Duration `yaml:"timeout"`
	BreakAfterConfig bool          `yaml:"break_after_config"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	TickInterval     time.Duration `yaml:"tick_interval"`

	MinSignalQuality int           `yaml:"min_signal_quality"`
	RemoveDuplicates bool          `yaml:"remove_duplicates"`
	ScanInterval     time.Duration `yaml:"scan_interval"`

	CustomHead  string        `yaml:"custom_head,omitempty"`
	ResetTime   string        `yaml:"reset_time"`
	RebootDelay time.Duration `yaml:"reboot_delay"`

	APStatic IPConfig `yaml:"ap_static,omitempty"`
	HTTPAddr string   `yaml:"http_addr"`
	DNSAddr  string   `yaml:"dns_addr"`

	// Advertise announces the portal over mDNS.
	Advertise bool `yaml:"advertise"`
}

// ConnectConfig configures joining a network.
type ConnectConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	WPSOnFailure  bool          `yaml:"wps_on_failure"`
	StationStatic IPConfig      `yaml:"station_static,omitempty"`
}

// StorageConfig locates the flash directory.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// RadioConfig selects the radio driver.
type RadioConfig struct {
	Driver    string `yaml:"driver"`
	Interface string `yaml:"interface"`

	// Networks are what the simulator driver sees. Other drivers ignore them.
	Networks []SimulatedNetwork `yaml:"networks,omitempty"`
}

// SimulatedNetwork is one network visible to the simulator driver. An
// empty Password makes it open.
type SimulatedNetwork struct {
	SSID     string `yaml:"ssid"`
	RSSI     int    `yaml:"rssi"`
	Password string `yaml:"password,omitempty"`
}

// StatusConfig configures the local event feed. An empty Addr disables it.
type StatusConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// IPConfig is a static address in dotted-decimal form.
type IPConfig struct {
	IP      string `yaml:"ip,omitempty"`
	Gateway string `yaml:"gateway,omitempty"`
	Subnet  string `yaml:"subnet,omitempty"`
}

// Parse converts c for the radio driver. An empty IP means DHCP.
func (c IPConfig) Parse() (radio.IPConfig, error) {
	return radio.ParseIPConfig(c.IP, c.Gateway, c.Subnet)
}

// ParamConfig declares an extra field on the portal WiFi form. A param
// with only CustomHTML is a raw fragment.
type ParamConfig struct {
	ID          string `yaml:"id,omitempty"`
	Placeholder string `yaml:"placeholder,omitempty"`
	Default     string `yaml:"default,omitempty"`
	Length      int    `yaml:"length,omitempty"`
	CustomHTML  string `yaml:"custom_html,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version: 1,
		Portal: PortalConfig{
			SettleDelay:      2 * time.Second,
			TickInterval:     10 * time.Millisecond,
			MinSignalQuality: 8,
			RemoveDuplicates: true,
			ScanInterval:     10 * time.Second,
			ResetTime:        "7,0",
			RebootDelay:      5 * time.Second,
			HTTPAddr:         ":80",
			DNSAddr:          ":53",
			Advertise:        true,
		},
		Connect: ConnectConfig{
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Root: "/var/lib/pluvion/flash",
		},
		Radio: RadioConfig{
			Driver:    DriverNMCli,
			Interface: "wlan0",
		},
	}
}

// Validate checks the values Load cannot fix up.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}
	switch c.Radio.Driver {
	case DriverNMCli, DriverSimulator:
	default:
		return fmt.Errorf("unknown radio driver %q (expected %s or %s)", c.Radio.Driver, DriverNMCli, DriverSimulator)
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.Portal.Timeout < 0 || c.Connect.Timeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if _, err := c.Portal.APStatic.Parse(); err != nil {
		return fmt.Errorf("portal.ap_static: %w", err)
	}
	if _, err := c.Connect.StationStatic.Parse(); err != nil {
		return fmt.Errorf("connect.station_static: %w", err)
	}
	if c.Portal.APName != "" {
		if err := stationconfig.ValidateSSID(c.Portal.APName); err != nil {
			return fmt.Errorf("portal.ap_name: %w", err)
		}
	}

	for i, n := range c.Radio.Networks {
		if err := stationconfig.ValidateSSID(n.SSID); err != nil {
			return fmt.Errorf("radio.networks[%d]: %w", i, err)
		}
	}

	seen := make(map[string]bool, len(c.Params))
	for i, p := range c.Params {
		if p.ID == "" {
			if p.CustomHTML == "" {
				return fmt.Errorf("params[%d]: id or custom_html is required", i)
			}
			continue
		}
		if seen[p.ID] {
			return fmt.Errorf("params[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if p.Length <= 0 {
			return fmt.Errorf("params[%d]: length must be positive", i)
		}
	}
	return nil
}
