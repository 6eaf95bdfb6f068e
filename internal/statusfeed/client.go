package statusfeed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/provision"
)

// Client reads events from a feed.
type Client struct {
	conn *websocket.Conn
	url  string
}

// URL builds the feed URL for addr, which may be host:port or a full
// ws:// or http:// URL.
func URL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid feed address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid feed address %q: unsupported scheme %s", addr, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid feed address %q: missing host", addr)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = Path
	}
	return u.String(), nil
}

// Dial connects to the feed at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	wsURL, err := URL(addr)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	logging.LogConnection(wsURL, "feed_connected")
	return &Client{conn: conn, url: wsURL}, nil
}

// URL returns the address the client is connected to.
func (c *Client) URL() string { return c.url }

// Next blocks until the next event arrives or the feed closes.
func (c *Client) Next() (provision.Event, error) {
	var e provision.Event
	if err := c.conn.ReadJSON(&e); err != nil {
		return provision.Event{}, err
	}
	return e, nil
}

// Close says goodbye and closes the connection.
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
