package portal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/pluvion/provision/internal/device"
	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/radio"
	"github.com/pluvion/provision/internal/stationconfig"
)

const (
	// DefaultHTTPAddr and DefaultDNSAddr are where the portal listens on
	// the access point.
	DefaultHTTPAddr = ":80"
	DefaultDNSAddr  = ":53"

	// DefaultRebootDelay is how long /r waits before rebooting.
	DefaultRebootDelay = 5 * time.Second

	// DNSTTL is the TTL of every wildcard answer.
	DNSTTL = 60

	queueSize = 8

	// shutdownGrace bounds how long Stop waits for responses already
	// served to be flushed.
	shutdownGrace = time.Second
)

// State is the lifecycle state of the portal.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Advertiser announces the portal on the local network. It returns a
// function that withdraws the announcement.
type Advertiser interface {
	Advertise(id device.Identity, port int) (func(), error)
}

// Options configure a Server.
type Options struct {
	HTTPAddr string
	DNSAddr  string

	// APStatic overrides the access point address when set.
	APStatic radio.IPConfig
	// StationStatic is the initial static configuration offered on the
	// WiFi form and handed back with submitted credentials.
	StationStatic radio.IPConfig

	// MinQuality hides networks below this quality. Negative shows all.
	MinQuality       int
	RemoveDuplicates bool

	// CustomHead is inserted verbatim into every page head.
	CustomHead string
	// ResetTime is "hours,minutes" of the daily counter reset.
	ResetTime    string
	ScanInterval time.Duration
	RebootDelay  time.Duration

	Params     []*Param
	Advertiser Advertiser
}

// DefaultOptions returns Options listening on the standard ports.
func DefaultOptions() Options {
	return Options{
		HTTPAddr:    DefaultHTTPAddr,
		DNSAddr:     DefaultDNSAddr,
		MinQuality:  -1,
		ResetTime:   DefaultResetTime,
		RebootDelay: DefaultRebootDelay,
	}
}

const (
	jobPending int32 = iota
	jobServing
	jobAbandoned
)

// job is a request parked by a network goroutine until Tick serves it.
// Exactly one of Tick (claim) or the parked goroutine (abandon) wins.
type job struct {
	state atomic.Int32
	done  chan struct{}
}

func newJob() job {
	return job{done: make(chan struct{})}
}

func (j *job) claim() bool   { return j.state.CompareAndSwap(jobPending, jobServing) }
func (j *job) abandon() bool { return j.state.CompareAndSwap(jobPending, jobAbandoned) }

type dnsJob struct {
	job
	w   dns.ResponseWriter
	req *dns.Msg
}

type httpJob struct {
	job
	w http.ResponseWriter
	r *http.Request
}

// Server is the captive portal: a soft access point, a DNS resolver that
// answers every name with the portal address, and the configuration web
// pages.
//
// Network goroutines never run portal code. They park each query or
// request on a queue and wait; Tick serves at most one of each per call on
// the caller's goroutine. Handlers therefore run one at a time, on the same
// goroutine as the controller reading the session.
type Server struct {
	driver  radio.Driver
	repo    *stationconfig.Repository
	opts    Options
	scanner *Scanner
	handler http.Handler
	now     func() time.Time

	mu       sync.Mutex
	state    State
	session  *Session
	identity device.Identity
	apIP     net.IP

	dnsServer   *dns.Server
	dnsConn     net.PacketConn
	httpServer  *http.Server
	httpLn      net.Listener
	unadvertise func()

	dnsJobs  chan *dnsJob
	httpJobs chan *httpJob
	quit     chan struct{}
	wg       sync.WaitGroup
}

// New creates a stopped portal.
func New(driver radio.Driver, repo *stationconfig.Repository, opts Options) *Server {
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = DefaultHTTPAddr
	}
	if opts.DNSAddr == "" {
		opts.DNSAddr = DefaultDNSAddr
	}
	if opts.RebootDelay <= 0 {
		opts.RebootDelay = DefaultRebootDelay
	}
	s := &Server{
		driver:  driver,
		repo:    repo,
		opts:    opts,
		scanner: NewScanner(driver, opts.ScanInterval),
		now:     time.Now,
	}
	s.handler = s.routes()
	return s
}

// SetClock replaces the time source used for session timing and
// scheduled reboots.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setState(to State) {
	if s.state == to {
		return
	}
	logging.LogStateTransition("portal", s.state.String(), to.String())
	s.state = to
}

// Session returns the running session, or nil when stopped.
func (s *Server) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Identity returns the identity read at Start.
func (s *Server) Identity() device.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// APIP returns the portal address.
func (s *Server) APIP() net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apIP
}

// HTTPAddr returns the bound HTTP address, or nil when stopped.
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// DNSAddr returns the bound DNS address, or nil when stopped.
func (s *Server) DNSAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dnsConn == nil {
		return nil
	}
	return s.dnsConn.LocalAddr()
}

// Handler returns the portal routes including the captive redirect. It
// serves requests directly, bypassing the Tick queue.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start brings up the access point and the DNS and HTTP listeners. A
// password outside 8..63 characters is ignored and the AP is left open.
func (s *Server) Start(apName, apPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return fmt.Errorf("portal is %s", s.state)
	}
	s.setState(StateStarting)

	if err := stationconfig.ValidateAPPassword(apPassword); err != nil {
		logging.Warn("Ignoring AP password", zap.Error(err))
		apPassword = ""
	}

	if err := s.bringUp(apName, apPassword); err != nil {
		s.teardown()
		s.setState(StateStopped)
		return err
	}

	s.identity = device.Load(s.driver, s.repo.FirmwareVersion())
	s.session = newSession(apName, apPassword, s.opts.APStatic, s.opts.StationStatic, s.now())

	if s.opts.Advertiser != nil {
		port := 80
		if tcp, ok := s.httpLn.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
		stop, err := s.opts.Advertiser.Advertise(s.identity, port)
		if err != nil {
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			s.unadvertise = stop
		}
	}

	logging.Info("Portal started",
		zap.String("ssid", apName),
		zap.Bool("open", apPassword == ""),
		zap.String("ip", s.apIP.String()),
		zap.String("http", s.httpLn.Addr().String()),
		zap.String("dns", s.dnsConn.LocalAddr().String()),
		zap.String("session", s.session.ID.String()),
		zap.String("station", s.identity.StationID),
	)
	s.setState(StateRunning)
	return nil
}

func (s *Server) bringUp(apName, apPassword string) error {
	if s.opts.APStatic.IsSet() {
		if err := s.driver.ConfigureAP(s.opts.APStatic); err != nil {
			return fmt.Errorf("failed to configure access point: %w", err)
		}
	}
	if err := s.driver.StartAP(apName, apPassword); err != nil {
		return fmt.Errorf("failed to start access point: %w", err)
	}
	s.apIP = s.driver.APIP()

	s.quit = make(chan struct{})
	s.dnsJobs = make(chan *dnsJob, queueSize)
	s.httpJobs = make(chan *httpJob, queueSize)

	conn, err := net.ListenPacket("udp", s.opts.DNSAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for DNS on %s: %w", s.opts.DNSAddr, err)
	}
	s.dnsConn = conn

	ln, err := net.Listen("tcp", s.opts.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for HTTP on %s: %w", s.opts.HTTPAddr, err)
	}
	s.httpLn = ln

	started := make(chan struct{})
	quit := s.quit
	dnsJobs := s.dnsJobs
	s.dnsServer = &dns.Server{
		PacketConn:        conn,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			parkDNS(dnsJobs, quit, w, req)
		}),
	}
	dnsServer := s.dnsServer
	dnsErr := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		dnsErr <- dnsServer.ActivateAndServe()
	}()
	select {
	case <-started:
	case err := <-dnsErr:
		s.dnsServer = nil
		return fmt.Errorf("failed to start DNS server: %w", err)
	}

	httpJobs := s.httpJobs
	s.httpServer = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parkHTTP(httpJobs, quit, w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

func parkDNS(jobs chan<- *dnsJob, quit <-chan struct{}, w dns.ResponseWriter, req *dns.Msg) {
	j := &dnsJob{job: newJob(), w: w, req: req}
	select {
	case jobs <- j:
	case <-quit:
		return
	}
	select {
	case <-j.done:
	case <-quit:
		if !j.abandon() {
			<-j.done
		}
	}
}

func parkHTTP(jobs chan<- *httpJob, quit <-chan struct{}, w http.ResponseWriter, r *http.Request) {
	j := &httpJob{job: newJob(), w: w, r: r}
	select {
	case jobs <- j:
	case <-quit:
		http.Error(w, "portal stopping", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}
	select {
	case <-j.done:
	case <-quit:
		if !j.abandon() {
			<-j.done
		}
	case <-r.Context().Done():
		if !j.abandon() {
			<-j.done
		}
	}
}

// Tick serves at most one pending DNS query and one pending HTTP request,
// then performs a reboot if /r scheduled one that is now due. It never
// waits for new work.
func (s *Server) Tick() {
	s.mu.Lock()
	running := s.state == StateRunning
	dnsJobs, httpJobs := s.dnsJobs, s.httpJobs
	s.mu.Unlock()
	if !running {
		return
	}

	select {
	case j := <-dnsJobs:
		if j.claim() {
			s.answerDNS(j.w, j.req)
		}
		close(j.done)
	default:
	}

	select {
	case j := <-httpJobs:
		if j.claim() {
			s.handler.ServeHTTP(j.w, j.r)
		}
		close(j.done)
	default:
	}

	s.rebootIfDue()
}

func (s *Server) rebootIfDue() {
	sess := s.session
	if sess == nil || !sess.RebootPending() || s.now().Before(sess.rebootAt) {
		return
	}
	sess.rebootAt = time.Time{}
	logging.Info("Rebooting on request")
	if err := s.driver.Reboot(); err != nil {
		logging.Error("Reboot failed", zap.Error(err))
	}
}

// WildcardResponse answers every question in req with an A record for ip.
func WildcardResponse(req *dns.Msg, ip net.IP) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = true
	for _, q := range req.Question {
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    DNSTTL,
			},
			A: ip.To4(),
		})
	}
	return m
}

func (s *Server) answerDNS(w dns.ResponseWriter, req *dns.Msg) {
	m := WildcardResponse(req, s.apIP)
	for _, q := range req.Question {
		logging.LogDNSQuery(w.RemoteAddr().String(), q.Name, s.apIP.String())
	}
	if err := w.WriteMsg(m); err != nil {
		logging.Warn("Failed to write DNS answer", zap.Error(err))
	}
}

// Stop shuts the listeners, releases parked requests and takes the access
// point down. Stopping a stopped portal is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	s.setState(StateStopping)
	s.teardown()
	if err := s.driver.StopAP(); err != nil {
		logging.Warn("Failed to stop access point", zap.Error(err))
	}
	if s.session != nil {
		logging.Info("Portal stopped",
			zap.String("session", s.session.ID.String()),
			zap.Duration("elapsed", s.session.Elapsed(s.now())),
		)
	}
	s.session = nil
	s.setState(StateStopped)
}

// teardown closes whatever bringUp opened. It is safe on a partial start.
func (s *Server) teardown() {
	if s.unadvertise != nil {
		s.unadvertise()
		s.unadvertise = nil
	}
	if s.quit != nil {
		close(s.quit)
	}
	if s.dnsServer != nil {
		if err := s.dnsServer.Shutdown(); err != nil {
			logging.Debug("DNS shutdown", zap.Error(err))
		}
	} else if s.dnsConn != nil {
		s.dnsConn.Close()
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.httpServer.Close()
		}
		cancel()
	} else if s.httpLn != nil {
		s.httpLn.Close()
	}
	s.wg.Wait()
	s.drain()

	s.dnsServer, s.dnsConn = nil, nil
	s.httpServer, s.httpLn = nil, nil
	s.quit = nil
}

func (s *Server) drain() {
	for {
		select {
		case j := <-s.dnsJobs:
			j.abandon()
			close(j.done)
		case j := <-s.httpJobs:
			j.abandon()
			close(j.done)
		default:
			return
		}
	}
}
