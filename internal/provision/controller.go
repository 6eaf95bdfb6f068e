package provision

import (
	"context"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/netconnect"
	"github.com/pluvion/provision/internal/portal"
	"github.com/pluvion/provision/internal/radio"
)

// DefaultSettleDelay is the pause between a credential submission and the
// connection attempt, long enough for the browser to get its response.
const DefaultSettleDelay = 2 * time.Second

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateOpeningPortal
	StatePortalRunning
	StateCredentialsSubmitted
	StatePortalTimedOut
	StateBreakAfterConfig
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateOpeningPortal:
		return "opening-portal"
	case StatePortalRunning:
		return "portal-running"
	case StateCredentialsSubmitted:
		return "credentials-submitted"
	case StatePortalTimedOut:
		return "portal-timed-out"
	case StateBreakAfterConfig:
		return "break-after-config"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Portal is the part of portal.Server the controller drives.
type Portal interface {
	Start(apName, apPassword string) error
	Stop()
	Tick()
	Session() *portal.Session
	APIP() net.IP
}

// Options tune the provisioning sequence.
type Options struct {
	// PortalTimeout ends the portal loop; 0 keeps it open forever.
	PortalTimeout time.Duration
	// ConnectTimeout bounds each connection attempt; 0 uses the driver's
	// own wait.
	ConnectTimeout time.Duration
	// SettleDelay is waited after a submission before connecting.
	SettleDelay time.Duration
	// BreakAfterConfig ends the portal after the first submission even
	// when the connection fails.
	BreakAfterConfig bool
	// TickInterval is slept between portal steps. 0 only yields the
	// processor, which spins.
	TickInterval time.Duration
}

// DefaultOptions returns Options with the standard settle delay.
func DefaultOptions() Options {
	return Options{SettleDelay: DefaultSettleDelay}
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the time source and the sleep used for the settle
// delay and tick interval.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.now = now
		c.sleep = sleep
	}
}

// WithListener registers l before the controller runs.
func WithListener(l Listener) Option {
	return func(c *Controller) {
		c.Subscribe(l)
	}
}

// Controller decides between joining the saved network and running the
// captive portal, and drives the portal until it yields a working
// connection, times out, or is told to stop after one submission.
//
// AutoConnect and StartPortal block; everything the portal does happens on
// their goroutine.
type Controller struct {
	driver    radio.Driver
	connector *netconnect.Connector
	portal    Portal
	opts      Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	listeners []listenerEntry
	nextID    atomic.Uint64

	portalSSID    string
	portalStarted time.Time
}

// New creates an idle controller.
func New(driver radio.Driver, connector *netconnect.Connector, p Portal, opts Options, options ...Option) *Controller {
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	c := &Controller{
		driver:    driver,
		connector: connector,
		portal:    p,
		opts:      opts,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Subscribe registers a listener and returns its id.
func (c *Controller) Subscribe(l Listener) SubscriptionID {
	id := SubscriptionID(c.nextID.Add(1))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: l})
	return id
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (c *Controller) Unsubscribe(id SubscriptionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.listeners {
		if e.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Controller) emit(e Event) {
	c.mu.Lock()
	listeners := append([]listenerEntry(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l.fn(e)
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from == to {
		return
	}
	logging.LogStateTransition("provision", from.String(), to.String())
	e := newEvent(EventStateChanged, c.now())
	e.State, e.Previous = to.String(), from.String()
	c.emit(e)
}

// PortalSSID returns the access point name of the last portal run.
func (c *Controller) PortalSSID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.portalSSID
}

// AutoConnect joins the saved network, or runs the portal when that
// fails. It reports whether the station ends up connected.
func (c *Controller) AutoConnect(ctx context.Context, apName, apPassword string) bool {
	logging.Info("Auto connect")
	if err := c.driver.SetMode(radio.ModeStation); err != nil {
		logging.Warn("Failed to enter station mode", zap.Error(err))
	}
	c.setState(StateConnecting)
	if c.connector.Connect(ctx, "", "", c.opts.ConnectTimeout) == netconnect.Connected {
		logging.Info("Connected to saved network",
			zap.String("ssid", c.driver.ConnectedSSID()),
			zap.String("ip", c.driver.LocalIP().String()))
		c.setState(StateConnected)
		return true
	}
	return c.StartPortal(ctx, apName, apPassword)
}

// StartPortal raises the access point and serves the portal until it
// produces a connection, times out, breaks after a submission or ctx is
// done. It reports whether the station is connected afterwards.
func (c *Controller) StartPortal(ctx context.Context, apName, apPassword string) bool {
	c.mu.Lock()
	c.portalSSID = apName
	c.mu.Unlock()

	c.setState(StateOpeningPortal)
	if err := c.driver.SetMode(radio.ModeAPStation); err != nil {
		logging.Warn("Failed to enter AP+station mode", zap.Error(err))
	}
	e := newEvent(EventAPModeEntered, c.now())
	e.PortalSSID = apName
	c.emit(e)

	if err := c.portal.Start(apName, apPassword); err != nil {
		logging.Error("Portal did not start", zap.Error(err))
		return c.finish()
	}
	c.portalStarted = c.now()
	c.setState(StatePortalRunning)
	logging.Info("Portal running",
		zap.String("ssid", apName),
		zap.String("ip", c.portal.APIP().String()),
		zap.Duration("timeout", c.opts.PortalTimeout))

	for ctx.Err() == nil {
		if c.Step(ctx) {
			break
		}
		c.yield(ctx)
	}
	if err := ctx.Err(); err != nil {
		logging.Info("Portal cancelled", zap.Error(err))
	}

	c.portal.Stop()
	return c.finish()
}

func (c *Controller) yield(ctx context.Context) {
	if c.opts.TickInterval > 0 {
		_ = c.sleep(ctx, c.opts.TickInterval)
		return
	}
	runtime.Gosched()
}

func (c *Controller) finish() bool {
	connected := c.driver.Status() == radio.StatusConnected
	if connected {
		c.setState(StateConnected)
	} else {
		c.setState(StateIdle)
	}
	return connected
}

// Step runs one iteration of the portal loop: the timeout check, one
// portal Tick and, when credentials were submitted, the connection
// attempt. It reports whether the loop is over.
func (c *Controller) Step(ctx context.Context) bool {
	if c.opts.PortalTimeout > 0 && c.now().Sub(c.portalStarted) >= c.opts.PortalTimeout {
		logging.Info("Portal timed out", zap.Duration("timeout", c.opts.PortalTimeout))
		c.setState(StatePortalTimedOut)
		c.emit(newEvent(EventPortalTimeout, c.now()))
		return true
	}

	c.portal.Tick()

	sess := c.portal.Session()
	if sess == nil || !sess.Submitted() {
		return false
	}
	sess.ClearSubmitted()
	creds := sess.Credentials()

	c.setState(StateCredentialsSubmitted)
	e := newEvent(EventCredentialsSubmitted, c.now())
	e.SSID = creds.SSID
	c.emit(e)

	if err := c.sleep(ctx, c.opts.SettleDelay); err != nil {
		return true
	}

	c.setState(StateConnecting)
	if creds.StationStatic.IsSet() {
		c.connector.SetStationStatic(creds.StationStatic)
	}
	result := c.connector.Connect(ctx, creds.SSID, creds.Passphrase, c.opts.ConnectTimeout)
	logging.Info("Connection attempt finished", zap.String("ssid", creds.SSID), zap.Stringer("result", result))

	if result == netconnect.Connected {
		if err := c.driver.SetMode(radio.ModeStation); err != nil {
			logging.Warn("Failed to leave AP mode", zap.Error(err))
		}
		c.setState(StateConnected)
		c.emitSave(creds.SSID, true)
		return true
	}
	if c.opts.BreakAfterConfig {
		c.setState(StateBreakAfterConfig)
		c.emitSave(creds.SSID, false)
		return true
	}
	c.setState(StatePortalRunning)
	return false
}

func (c *Controller) emitSave(ssid string, connected bool) {
	e := newEvent(EventSaveConfig, c.now())
	e.SSID = ssid
	e.Connected = connected
	c.emit(e)
}

// ResetSettings makes the radio forget the saved network.
func (c *Controller) ResetSettings() error {
	logging.Info("Forgetting saved network", zap.String("ssid", c.driver.SavedSSID()))
	return c.driver.Disconnect(true)
}
