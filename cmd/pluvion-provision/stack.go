package main

import (
	"fmt"

	"github.com/pluvion/provision/internal/config"
	"github.com/pluvion/provision/internal/device"
	"github.com/pluvion/provision/internal/discovery"
	"github.com/pluvion/provision/internal/flashfs"
	"github.com/pluvion/provision/internal/keystore"
	"github.com/pluvion/provision/internal/netconnect"
	"github.com/pluvion/provision/internal/portal"
	"github.com/pluvion/provision/internal/provision"
	"github.com/pluvion/provision/internal/radio"
	"github.com/pluvion/provision/internal/stationconfig"
	"github.com/pluvion/provision/internal/statusfeed"
)

// stack is everything a provisioning run needs, wired from one Config.
type stack struct {
	cfg        *config.Config
	driver     radio.Driver
	store      *keystore.Store
	repo       *stationconfig.Repository
	connector  *netconnect.Connector
	portal     *portal.Server
	controller *provision.Controller
	// feed is nil when status.addr is empty.
	feed *statusfeed.Server
}

func newDriver(cfg config.RadioConfig) (radio.Driver, error) {
	switch cfg.Driver {
	case config.DriverNMCli:
		return radio.NewNMCli(cfg.Interface), nil
	case config.DriverSimulator:
		sim := radio.NewSimulator()
		for _, n := range cfg.Networks {
			sim.Networks = append(sim.Networks, radio.Network{
				SSID:      n.SSID,
				RSSI:      n.RSSI,
				Encrypted: n.Password != "",
			})
			sim.Passwords[n.SSID] = n.Password
		}
		return sim, nil
	default:
		return nil, fmt.Errorf("unknown radio driver %q", cfg.Driver)
	}
}

// portalParams converts the configured extra form fields.
func portalParams(params []config.ParamConfig) []*portal.Param {
	out := make([]*portal.Param, 0, len(params))
	for _, p := range params {
		if p.ID == "" {
			out = append(out, portal.NewHTMLParam(p.CustomHTML))
			continue
		}
		out = append(out, portal.NewParam(p.ID, p.Placeholder, p.Default, p.Length, p.CustomHTML))
	}
	return out
}

func buildStack(cfg *config.Config) (*stack, error) {
	driver, err := newDriver(cfg.Radio)
	if err != nil {
		return nil, err
	}
	return buildStackWithDriver(cfg, driver)
}

func buildStackWithDriver(cfg *config.Config, driver radio.Driver) (*stack, error) {
	apStatic, err := cfg.Portal.APStatic.Parse()
	if err != nil {
		return nil, fmt.Errorf("portal.ap_static: %w", err)
	}
	stationStatic, err := cfg.Connect.StationStatic.Parse()
	if err != nil {
		return nil, fmt.Errorf("connect.station_static: %w", err)
	}

	store := keystore.New(flashfs.NewDir(cfg.Storage.Root))
	repo := stationconfig.NewRepository(store)

	connector := netconnect.New(driver,
		netconnect.WithWPSOnFailure(cfg.Connect.WPSOnFailure),
		netconnect.WithStationStatic(stationStatic),
	)

	opts := portal.DefaultOptions()
	opts.HTTPAddr = cfg.Portal.HTTPAddr
	opts.DNSAddr = cfg.Portal.DNSAddr
	opts.APStatic = apStatic
	opts.StationStatic = stationStatic
	opts.MinQuality = cfg.Portal.MinSignalQuality
	opts.RemoveDuplicates = cfg.Portal.RemoveDuplicates
	opts.CustomHead = cfg.Portal.CustomHead
	opts.ResetTime = cfg.Portal.ResetTime
	opts.ScanInterval = cfg.Portal.ScanInterval
	opts.RebootDelay = cfg.Portal.RebootDelay
	opts.Params = portalParams(cfg.Params)
	if cfg.Portal.Advertise {
		opts.Advertiser = &discovery.Advertiser{}
	}
	p := portal.New(driver, repo, opts)

	ctrl := provision.New(driver, connector, p, provision.Options{
		PortalTimeout:    cfg.Portal.Timeout,
		ConnectTimeout:   cfg.Connect.Timeout,
		SettleDelay:      cfg.Portal.SettleDelay,
		BreakAfterConfig: cfg.Portal.BreakAfterConfig,
		TickInterval:     cfg.Portal.TickInterval,
	})

	s := &stack{
		cfg:        cfg,
		driver:     driver,
		store:      store,
		repo:       repo,
		connector:  connector,
		portal:     p,
		controller: ctrl,
	}
	if cfg.Status.Addr != "" {
		s.feed = statusfeed.New(statusfeed.Config{Addr: cfg.Status.Addr})
		ctrl.Subscribe(s.feed.Listener())
	}
	return s, nil
}

// apName is the configured access point name, or the station id.
func (s *stack) apName() string {
	if s.cfg.Portal.APName != "" {
		return s.cfg.Portal.APName
	}
	return device.StationID(s.driver.ChipID())
}
