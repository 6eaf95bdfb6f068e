package radio

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pluvion/provision/internal/logging"
)

// HotspotConnection is the NetworkManager profile name used for the
// soft access point.
const HotspotConnection = "PluviOn-Hotspot"

// DefaultNMConnectTimeout bounds WaitForConnectResult.
const DefaultNMConnectTimeout = 30 * time.Second

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// NMCli drives a Linux WiFi interface through NetworkManager's nmcli.
//
// nmcli's "connect" blocks until the attempt ends, so Begin runs it in a
// goroutine and records the outcome; Status reports idle until then.
type NMCli struct {
	Interface string
	Run       Runner

	mu      sync.Mutex
	mode    Mode
	pending bool
	failed  bool
	noSSID  bool
	done    chan struct{}
	staCfg  IPConfig
	apCfg   IPConfig
}

// NewNMCli returns a driver for iface using ExecRunner.
func NewNMCli(iface string) *NMCli {
	return &NMCli{
		Interface: iface,
		Run:       ExecRunner,
		mode:      ModeStation,
		apCfg:     IPConfig{IP: net.IPv4(10, 42, 0, 1).To4()},
	}
}

func (d *NMCli) nmcli(ctx context.Context, args ...string) ([]byte, error) {
	logging.Debug("nmcli", zap.Strings("args", args))
	return d.Run(ctx, "nmcli", args...)
}

func (d *NMCli) SetMode(m Mode) error {
	d.mu.Lock()
	d.mode = m
	d.mu.Unlock()

	if m == ModeOff {
		_, err := d.nmcli(context.Background(), "radio", "wifi", "off")
		return err
	}
	_, err := d.nmcli(context.Background(), "radio", "wifi", "on")
	return err
}

func (d *NMCli) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// deviceState returns the nmcli GENERAL.STATE text for the interface.
func (d *NMCli) deviceState() string {
	out, err := d.nmcli(context.Background(), "-t", "-f", "DEVICE,STATE", "device")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := splitTerse(line)
		if len(fields) >= 2 && fields[0] == d.Interface {
			return fields[1]
		}
	}
	return ""
}

func (d *NMCli) Status() Status {
	d.mu.Lock()
	pending, failed, noSSID := d.pending, d.failed, d.noSSID
	d.mu.Unlock()

	if pending {
		return StatusIdle
	}
	state := d.deviceState()
	switch {
	case state == "connected":
		return StatusConnected
	case strings.HasPrefix(state, "connecting"):
		return StatusIdle
	case noSSID:
		return StatusNoSSID
	case failed:
		return StatusConnectFailed
	default:
		return StatusDisconnected
	}
}

// start launches a blocking nmcli connect in the background.
func (d *NMCli) start(args ...string) {
	d.mu.Lock()
	d.pending, d.failed, d.noSSID = true, false, false
	done := make(chan struct{})
	d.done = done
	staCfg := d.staCfg
	d.mu.Unlock()

	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), DefaultNMConnectTimeout)
		defer cancel()

		_, err := d.nmcli(ctx, args...)
		if err == nil && staCfg.IsSet() {
			err = d.applyStatic(ctx, staCfg)
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		d.pending = false
		if err != nil {
			d.failed = true
			d.noSSID = strings.Contains(err.Error(), "No network with SSID")
			logging.Warn("nmcli connect failed", zap.Error(err))
		}
	}()
}

func (d *NMCli) applyStatic(ctx context.Context, cfg IPConfig) error {
	name := d.activeConnection()
	if name == "" {
		return nil
	}
	args := []string{"connection", "modify", name,
		"ipv4.method", "manual",
		"ipv4.addresses", cidr(cfg.IP, cfg.Subnet)}
	if cfg.Gateway != nil {
		args = append(args, "ipv4.gateway", cfg.Gateway.String())
	}
	if _, err := d.nmcli(ctx, args...); err != nil {
		return err
	}
	_, err := d.nmcli(ctx, "connection", "up", name)
	return err
}

func (d *NMCli) activeConnection() string {
	out, err := d.nmcli(context.Background(), "-t", "-f", "GENERAL.CONNECTION", "device", "show", d.Interface)
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, ':'); i >= 0 {
		line = line[i+1:]
	}
	if line == "--" {
		return ""
	}
	return line
}

func (d *NMCli) Begin(ssid, passphrase string) error {
	args := []string{"device", "wifi", "connect", ssid}
	if passphrase != "" {
		args = append(args, "password", passphrase)
	}
	args = append(args, "ifname", d.Interface)
	d.start(args...)
	return nil
}

func (d *NMCli) BeginSaved() error {
	d.start("device", "connect", d.Interface)
	return nil
}

// SavedSSID returns the first saved wireless profile other than the
// hotspot.
func (d *NMCli) SavedSSID() string {
	out, err := d.nmcli(context.Background(), "-t", "-f", "NAME,TYPE", "connection", "show")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := splitTerse(line)
		if len(fields) >= 2 && fields[1] == "802-11-wireless" && fields[0] != HotspotConnection {
			return fields[0]
		}
	}
	return ""
}

func (d *NMCli) Disconnect(forget bool) error {
	if _, err := d.nmcli(context.Background(), "device", "disconnect", d.Interface); err != nil {
		logging.Debug("nmcli disconnect", zap.Error(err))
	}
	if !forget {
		return nil
	}
	for ssid := d.SavedSSID(); ssid != ""; ssid = d.SavedSSID() {
		if _, err := d.nmcli(context.Background(), "connection", "delete", ssid); err != nil {
			return err
		}
	}
	return nil
}

func (d *NMCli) WaitForConnectResult(ctx context.Context) Status {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return d.Status()
}

func (d *NMCli) ConfigureStation(cfg IPConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.staCfg = cfg
	return nil
}

func (d *NMCli) ConfigureAP(cfg IPConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cfg.IsSet() {
		d.apCfg = cfg
	}
	return nil
}

func (d *NMCli) StartAP(ssid, passphrase string) error {
	ctx := context.Background()
	args := []string{"device", "wifi", "hotspot", "ifname", d.Interface,
		"con-name", HotspotConnection, "ssid", ssid}
	if passphrase != "" {
		args = append(args, "password", passphrase)
	}
	if _, err := d.nmcli(ctx, args...); err != nil {
		return err
	}

	d.mu.Lock()
	ap := d.apCfg
	d.mu.Unlock()
	if _, err := d.nmcli(ctx, "connection", "modify", HotspotConnection,
		"ipv4.method", "shared", "ipv4.addresses", cidr(ap.IP, ap.Subnet)); err != nil {
		return err
	}
	_, err := d.nmcli(ctx, "connection", "up", HotspotConnection)
	return err
}

func (d *NMCli) StopAP() error {
	_, err := d.nmcli(context.Background(), "connection", "down", HotspotConnection)
	return err
}

// Scan rescans and converts nmcli's 0-100 signal to dBm.
func (d *NMCli) Scan(ctx context.Context) ([]Network, error) {
	out, err := d.nmcli(ctx, "-t", "-f", "SSID,SIGNAL,SECURITY", "device", "wifi", "list",
		"ifname", d.Interface, "--rescan", "yes")
	if err != nil {
		return nil, err
	}
	return parseWifiList(out), nil
}

func parseWifiList(out []byte) []Network {
	var networks []Network
	for _, line := range strings.Split(string(out), "\n") {
		fields := splitTerse(line)
		if len(fields) < 3 || fields[0] == "" {
			continue
		}
		signal, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		security := strings.TrimSpace(fields[2])
		networks = append(networks, Network{
			SSID:      fields[0],
			RSSI:      signal/2 - 100,
			Encrypted: security != "" && security != "--",
		})
	}
	return networks
}

func (d *NMCli) StartWPS(ctx context.Context) error {
	return ErrUnsupported
}

func (d *NMCli) LocalIP() net.IP {
	iface, err := net.InterfaceByName(d.Interface)
	if err != nil {
		return net.IPv4zero.To4()
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return net.IPv4zero.To4()
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			if v4 := ipnet.IP.To4(); v4 != nil {
				return v4
			}
		}
	}
	return net.IPv4zero.To4()
}

func (d *NMCli) APIP() net.IP {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apCfg.IP
}

func (d *NMCli) ConnectedSSID() string {
	if d.Status() != StatusConnected {
		return ""
	}
	return d.activeConnection()
}

func (d *NMCli) MACAddress() string {
	iface, err := net.InterfaceByName(d.Interface)
	if err != nil {
		return ""
	}
	return strings.ToUpper(iface.HardwareAddr.String())
}

// APMACAddress is the same as MACAddress: NetworkManager runs the hotspot
// on the station interface.
func (d *NMCli) APMACAddress() string {
	return d.MACAddress()
}

// ChipID derives an ESP-style chip id from the low three MAC bytes.
func (d *NMCli) ChipID() uint32 {
	iface, err := net.InterfaceByName(d.Interface)
	if err != nil || len(iface.HardwareAddr) < 3 {
		return 0
	}
	return chipIDFromMAC(iface.HardwareAddr)
}

func chipIDFromMAC(mac net.HardwareAddr) uint32 {
	n := len(mac)
	return uint32(mac[n-3])<<16 | uint32(mac[n-2])<<8 | uint32(mac[n-1])
}

func (d *NMCli) FlashChipID() uint32   { return 0 }
func (d *NMCli) FlashChipSize() uint32 { return 0 }

func (d *NMCli) Reboot() error {
	_, err := d.Run(context.Background(), "systemctl", "reboot")
	return err
}

// splitTerse splits an nmcli -t line on unescaped colons.
func splitTerse(line string) []string {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return nil
	}
	var fields []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' && i+1 < len(line) {
			i++
			cur.WriteByte(line[i])
			continue
		}
		if c == ':' {
			fields = append(fields, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	return append(fields, cur.String())
}

func cidr(ip, mask net.IP) string {
	ones := 24
	if m := mask.To4(); m != nil {
		ones, _ = net.IPMask(m).Size()
	}
	return fmt.Sprintf("%s/%d", ip, ones)
}
