package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/provision"
)

const (
	// Path is where the feed is served.
	Path = "/events"

	// DefaultBacklog is how many recent events a new client receives.
	DefaultBacklog = 32

	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Messages queued per client before it is dropped as too slow
	sendBuffer = 64
)

// Config holds the feed server configuration
type Config struct {
	Addr    string
	Backlog int
}

// Server broadcasts controller events to websocket clients.
type Server struct {
	config   Config
	upgrader websocket.Upgrader
	handler  http.Handler

	listener net.Listener
	httpSrv  *http.Server

	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[string]*client
	backlog     [][]byte
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// New creates a Server. Nothing listens until Start.
func New(config Config) *Server {
	if config.Backlog <= 0 {
		config.Backlog = DefaultBacklog
	}
	s := &Server{
		config:      config,
		activeConns: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed is read-only and local; any origin may watch it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	r := mux.NewRouter()
	r.HandleFunc(Path, s.serveWS).Methods(http.MethodGet)
	s.handler = r
	return s
}

// Handler returns the HTTP handler serving the feed.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	httpSrv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.listener = listener
	s.httpSrv = httpSrv
	s.mu.Unlock()

	logging.Info("Status feed listening", zap.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Status feed server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and shuts it down when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Publish sends e to every connected client and keeps it for late joiners.
// It never blocks: a client whose buffer is full is disconnected.
func (s *Server) Publish(e provision.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logging.Error("Failed to marshal event", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.backlog = append(s.backlog, data)
	if over := len(s.backlog) - s.config.Backlog; over > 0 {
		s.backlog = append([][]byte(nil), s.backlog[over:]...)
	}

	for addr, c := range s.activeConns {
		select {
		case c.send <- data:
		default:
			logging.Warn("Status feed client too slow, dropping", zap.String("remote_addr", addr))
			delete(s.activeConns, addr)
			c.close()
		}
	}
}

// Listener adapts Publish for provision.Controller.Subscribe.
func (s *Server) Listener() provision.Listener {
	return s.Publish
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	remoteAddr := conn.RemoteAddr().String()
	logging.LogConnection(remoteAddr, "websocket_upgraded")

	c := &client{conn: conn, send: make(chan []byte, sendBuffer+s.config.Backlog)}

	s.mu.Lock()
	for _, data := range s.backlog {
		c.send <- data
	}
	s.activeConns[remoteAddr] = c
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writePump(c, remoteAddr)
	}()
	go func() {
		defer s.wg.Done()
		s.readPump(c, remoteAddr)
	}()
}

func (s *Server) writePump(c *client, remoteAddr string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		logging.LogConnection(remoteAddr, "websocket_closed")
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Debug("Status feed write failed",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
				s.remove(remoteAddr, c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.remove(remoteAddr, c)
				return
			}
		}
	}
}

// readPump discards client messages and notices when the peer goes away.
func (s *Server) readPump(c *client, remoteAddr string) {
	defer s.remove(remoteAddr, c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("Status feed read ended",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
			}
			return
		}
	}
}

func (s *Server) remove(remoteAddr string, c *client) {
	s.mu.Lock()
	if cur, ok := s.activeConns[remoteAddr]; ok && cur == c {
		delete(s.activeConns, remoteAddr)
	}
	s.mu.Unlock()
	c.close()
}

// Shutdown closes the listener and every client, waiting for them up to
// the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down status feed...")

	s.mu.Lock()
	httpSrv := s.httpSrv
	s.mu.Unlock()

	var err error
	if httpSrv != nil {
		err = httpSrv.Shutdown(ctx)
	}

	s.mu.Lock()
	for addr, c := range s.activeConns {
		logging.Debug("Closing active connection", zap.String("remote_addr", addr))
		delete(s.activeConns, addr)
		c.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All status feed connections closed")
	case <-ctx.Done():
		logging.Warn("Status feed shutdown timeout, forcing close")
		if httpSrv != nil {
			_ = httpSrv.Close()
		}
	}
	return err
}

// ActiveConnections returns the number of connected clients.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}
