package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "pluvion") {
		t.Errorf("GetConfigDir() = %v, should contain 'pluvion'", configDir)
	}

	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("macOS config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigDirXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME applies on linux")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	got, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if got != "/tmp/xdg/pluvion" {
		t.Errorf("GetConfigDir() = %v, want /tmp/xdg/pluvion", got)
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "provisioner.yaml" {
		t.Errorf("GetConfigPath() should end with 'provisioner.yaml', got: %v", configPath)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("Version = %v, want 1", cfg.Version)
	}
	if cfg.Portal.SettleDelay != 2*time.Second {
		t.Errorf("Portal.SettleDelay = %v, want 2s", cfg.Portal.SettleDelay)
	}
	if cfg.Portal.Timeout != 0 {
		t.Errorf("Portal.Timeout = %v, want 0 (no timeout)", cfg.Portal.Timeout)
	}
	if cfg.Portal.ResetTime != "7,0" {
		t.Errorf("Portal.ResetTime = %v, want 7,0", cfg.Portal.ResetTime)
	}
	if cfg.Radio.Driver != DriverNMCli {
		t.Errorf("Radio.Driver = %v, want nmcli", cfg.Radio.Driver)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Portal.HTTPAddr != ":80" {
		t.Errorf("Portal.HTTPAddr = %v, want :80", cfg.Portal.HTTPAddr)
	}
}

func TestParsePartialKeepsDefaults(t *testing.T) {
	data := []byte(`
version: 1
portal:
  ap_password: pluvion123
  timeout: 3m
  min_signal_quality: -1
radio:
  driver: simulator
params:
  - id: server
    placeholder: Server
    default: pluvion.com.br
    length: 40
  - custom_html: "<p>Extra</p>"
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Portal.Timeout != 3*time.Minute {
		t.Errorf("Portal.Timeout = %v, want 3m", cfg.Portal.Timeout)
	}
	if cfg.Portal.APPassword != "pluvion123" {
		t.Errorf("Portal.APPassword = %v", cfg.Portal.APPassword)
	}
	if cfg.Portal.MinSignalQuality != -1 {
		t.Errorf("Portal.MinSignalQuality = %v, want -1", cfg.Portal.MinSignalQuality)
	}
	if cfg.Portal.SettleDelay != 2*time.Second {
		t.Errorf("Portal.SettleDelay = %v, want default 2s", cfg.Portal.SettleDelay)
	}
	if cfg.Radio.Interface != "wlan0" {
		t.Errorf("Radio.Interface = %v, want default wlan0", cfg.Radio.Interface)
	}
	if len(cfg.Params) != 2 || cfg.Params[0].Length != 40 || cfg.Params[1].CustomHTML != "<p>Extra</p>" {
		t.Errorf("Params = %+v", cfg.Params)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"default", func(c *Config) {}, ""},
		{"version", func(c *Config) { c.Version = 2 }, "unsupported config version"},
		{"driver", func(c *Config) { c.Radio.Driver = "esp" }, "unknown radio driver"},
		{"storage", func(c *Config) { c.Storage.Root = "" }, "storage.root"},
		{"negative timeout", func(c *Config) { c.Portal.Timeout = -time.Second }, "negative"},
		{"bad static ip", func(c *Config) { c.Connect.StationStatic.IP = "999.1.1.1" }, "station_static"},
		{"long ap name", func(c *Config) { c.Portal.APName = strings.Repeat("x", 33) }, "ap_name"},
		{"simulated ssid", func(c *Config) { c.Radio.Networks = []SimulatedNetwork{{RSSI: -50}} }, "radio.networks[0]"},
		{"empty param", func(c *Config) { c.Params = []ParamConfig{{}} }, "id or custom_html"},
		{"duplicate param", func(c *Config) {
			c.Params = []ParamConfig{{ID: "a", Length: 1}, {ID: "a", Length: 1}}
		}, "duplicate id"},
		{"param length", func(c *Config) { c.Params = []ParamConfig{{ID: "a"}} }, "length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "provisioner.yaml")

	cfg := Default()
	cfg.Portal.APPassword = "pluvion123"
	cfg.Portal.Timeout = 90 * time.Second
	cfg.Connect.StationStatic = IPConfig{IP: "192.168.1.99", Gateway: "192.168.1.1", Subnet: "255.255.255.0"}
	cfg.Params = []ParamConfig{{ID: "server", Placeholder: "Server", Length: 40}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Portal.Timeout != 90*time.Second {
		t.Errorf("Portal.Timeout = %v, want 1m30s", loaded.Portal.Timeout)
	}
	if loaded.Connect.StationStatic != cfg.Connect.StationStatic {
		t.Errorf("StationStatic = %+v, want %+v", loaded.Connect.StationStatic, cfg.Connect.StationStatic)
	}
	if len(loaded.Params) != 1 || loaded.Params[0].ID != "server" {
		t.Errorf("Params = %+v", loaded.Params)
	}

	static, err := loaded.Connect.StationStatic.Parse()
	if err != nil || static.IP.String() != "192.168.1.99" {
		t.Errorf("Parse() = %v, %v", static, err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("version: [1"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}
