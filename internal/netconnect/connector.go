package netconnect

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/radio"
)

// PollInterval is how often the station status is checked while waiting
// for a join attempt.
const PollInterval = 100 * time.Millisecond

// Result is the outcome of a connection attempt.
type Result int

const (
	Connected Result = iota
	Failed
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// ResultFromStatus maps a final station status to a Result.
func ResultFromStatus(s radio.Status) Result {
	switch s {
	case radio.StatusConnected:
		return Connected
	case radio.StatusConnectFailed, radio.StatusNoSSID:
		return Failed
	default:
		return TimedOut
	}
}

// Connector joins networks through a radio.Driver.
type Connector struct {
	driver radio.Driver

	// WPSOnFailure enables a push-button WPS attempt when resuming the
	// saved network fails.
	WPSOnFailure bool

	static radio.IPConfig

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures a Connector.
type Option func(*Connector)

// WithWPSOnFailure sets WPSOnFailure.
func WithWPSOnFailure(enabled bool) Option {
	return func(c *Connector) { c.WPSOnFailure = enabled }
}

// WithStationStatic applies a static address before every attempt.
func WithStationStatic(cfg radio.IPConfig) Option {
	return func(c *Connector) { c.static = cfg }
}

// WithClock replaces time.Now and the poll sleep. Tests use it to run the
// poll loop without waiting.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Connector) {
		c.now = now
		c.sleep = sleep
	}
}

// New creates a Connector for driver.
func New(driver radio.Driver, opts ...Option) *Connector {
	c := &Connector{
		driver: driver,
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetStationStatic replaces the static station address. The zero value
// restores DHCP.
func (c *Connector) SetStationStatic(cfg radio.IPConfig) {
	c.static = cfg
}

// StationStatic returns the static station address in use.
func (c *Connector) StationStatic() radio.IPConfig {
	return c.static
}

// Connect joins ssid, or resumes the saved network when ssid is empty, and
// waits up to timeout for the outcome. A zero timeout defers to the
// driver's own limit. Connect never fails with an error; driver problems
// surface as Failed or TimedOut.
func (c *Connector) Connect(ctx context.Context, ssid, passphrase string, timeout time.Duration) Result {
	logging.Info("Connecting as wifi client",
		zap.String("ssid", ssid),
		zap.Duration("timeout", timeout))

	if c.static.IsSet() {
		logging.Info("Applying static station address", zap.Stringer("ip", c.static.IP))
		if err := c.driver.ConfigureStation(c.static); err != nil {
			logging.Warn("Static station address not applied", zap.Error(err))
		}
	}

	// Re-issuing a join while one is active destabilizes the radio.
	if c.driver.Status() == radio.StatusConnected {
		logging.Info("Already connected, skipping join")
		return Connected
	}

	status, started := c.begin(ssid, passphrase)
	if started {
		status = c.WaitForResult(ctx, timeout)
	}
	result := ResultFromStatus(status)

	if result == Failed && ssid == "" && passphrase == "" && c.WPSOnFailure {
		logging.Info("Saved network failed, trying WPS")
		if err := c.driver.StartWPS(ctx); err != nil {
			logging.Warn("WPS not available", zap.Error(err))
		} else {
			result = ResultFromStatus(c.WaitForResult(ctx, timeout))
		}
	}

	logging.Info("Connection result",
		zap.String("result", result.String()),
		zap.Stringer("ip", c.driver.LocalIP()))
	return result
}

// begin starts the join. When there is nothing to join it returns
// StatusNoSSID and started=false.
func (c *Connector) begin(ssid, passphrase string) (radio.Status, bool) {
	if ssid != "" {
		if err := c.driver.Begin(ssid, passphrase); err != nil {
			logging.Warn("Join request rejected", zap.String("ssid", ssid), zap.Error(err))
			return radio.StatusConnectFailed, false
		}
		return radio.StatusIdle, true
	}

	saved := c.driver.SavedSSID()
	if saved == "" {
		logging.Info("No saved credentials")
		return radio.StatusNoSSID, false
	}

	logging.Info("Resuming saved network", zap.String("ssid", saved))
	if err := c.driver.Disconnect(false); err != nil {
		logging.Debug("Disconnect before resume", zap.Error(err))
	}
	if err := c.driver.BeginSaved(); err != nil {
		logging.Warn("Resume request rejected", zap.Error(err))
		return radio.StatusConnectFailed, false
	}
	return radio.StatusIdle, true
}

// WaitForResult polls the station status every PollInterval until the
// attempt connects, fails, or timeout elapses. A zero timeout blocks in
// the driver instead.
func (c *Connector) WaitForResult(ctx context.Context, timeout time.Duration) radio.Status {
	if timeout == 0 {
		return c.driver.WaitForConnectResult(ctx)
	}

	deadline := c.now().Add(timeout)
	for {
		status := c.driver.Status()
		if status.Terminal() {
			return status
		}
		if !c.now().Before(deadline) {
			logging.Debug("Connect wait timed out", zap.Stringer("status", status))
			return status
		}
		if err := c.sleep(ctx, PollInterval); err != nil {
			return c.driver.Status()
		}
	}
}
