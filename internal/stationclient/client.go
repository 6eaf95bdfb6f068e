package stationclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/pluvion/provision/internal/keystore"
	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/portal"
	"github.com/pluvion/provision/internal/stationconfig"
)

const (
	// DefaultAddr is the portal on a station's own access point.
	DefaultAddr = "192.168.4.1"

	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for failed requests
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the initial delay between retry attempts
	DefaultRetryDelay = 1 * time.Second

	// DefaultMaxRetryDelay is the maximum delay for exponential backoff
	DefaultMaxRetryDelay = 10 * time.Second
)

// Portal paths the client talks to.
const (
	pathHome     = "/"
	pathInfo     = "/i.json"
	pathSettings = "/savePluvionConfig"
	pathWiFiSave = "/wifisave"
	pathReset    = "/r"
)

// Settings are the station values the home form posts.
type Settings struct {
	Name           string
	Latitude       string
	Longitude      string
	BucketVolume   string
	ResetCountdown string
}

// Validate applies the home form's rules. The portal itself stores
// whatever it receives, so this is the only place bad values are caught.
func (s Settings) Validate() error {
	var problems []string
	for field, value := range map[keystore.ConfigKey]string{
		keystore.StationName:    s.Name,
		keystore.Latitude:       s.Latitude,
		keystore.Longitude:      s.Longitude,
		keystore.BucketVolume:   s.BucketVolume,
		keystore.ResetCountdown: s.ResetCountdown,
	} {
		if field == keystore.ResetCountdown && value == "" {
			continue
		}
		if err := stationconfig.Validate(field.String(), value); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return newValidationError(strings.Join(problems, "; "))
}

func (s Settings) form() url.Values {
	return url.Values{
		"name": {s.Name},
		"lat":  {s.Latitude},
		"lon":  {s.Longitude},
		"vol":  {s.BucketVolume},
		"ttr":  {s.ResetCountdown},
	}
}

// Credentials are what the WiFi form posts. Params carries the values of
// extra form fields by id.
type Credentials struct {
	SSID       string
	Passphrase string
	StaticIP   string
	Gateway    string
	Subnet     string
	Params     map[string]string
}

// Validate checks the SSID and, when given, the static address.
func (c Credentials) Validate() error {
	if err := stationconfig.ValidateSSID(c.SSID); err != nil {
		return newValidationError(err.Error())
	}
	if c.StaticIP == "" && (c.Gateway != "" || c.Subnet != "") {
		return newValidationError("gateway and subnet need a static IP")
	}
	return nil
}

func (c Credentials) form() url.Values {
	form := url.Values{"s": {c.SSID}, "p": {c.Passphrase}}
	if c.StaticIP != "" {
		form.Set("ip", c.StaticIP)
		form.Set("gw", c.Gateway)
		form.Set("sn", c.Subnet)
	}
	for id, value := range c.Params {
		form.Set(id, value)
	}
	return form
}

// Client talks to a station's setup portal over HTTP.
type Client struct {
	// BaseURL is the portal root (e.g., "http://192.168.4.1")
	BaseURL string

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	// MaxRetries is the maximum number of retry attempts for failed requests
	MaxRetries uint64

	// RetryDelay is the initial delay between retry attempts
	RetryDelay time.Duration

	// MaxRetryDelay is the maximum delay for exponential backoff
	MaxRetryDelay time.Duration
}

// BaseURL turns "192.168.4.1", "192.168.4.1:8080" or a full URL into a
// portal root URL.
func BaseURL(addr string) (string, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid station address %q: %w", addr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid station address %q: scheme must be http or https", addr)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid station address %q: missing host", addr)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// New creates a client for the portal at addr.
func New(addr string) (*Client, error) {
	base, err := BaseURL(addr)
	if err != nil {
		return nil, err
	}
	return &Client{
		BaseURL:       base,
		HTTPClient:    &http.Client{Timeout: DefaultTimeout},
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}, nil
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// SetRetry configures retry behavior
func (c *Client) SetRetry(maxRetries uint64, retryDelay time.Duration) {
	c.MaxRetries = maxRetries
	c.RetryDelay = retryDelay
}

// retry runs op until it succeeds, fails permanently, runs out of
// attempts or ctx ends.
func (c *Client) retry(ctx context.Context, what string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryDelay
	b.MaxInterval = c.MaxRetryDelay
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.MaxRetries), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		logging.Debug("Station request failed, retrying",
			zap.String("request", what),
			zap.Duration("after", next),
			zap.Error(err))
	})
}

// do sends one request and returns the body of a 200 response.
func (c *Client) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, &StationError{Type: ErrTypeNetwork, Message: "failed to create request", Err: err}
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, classify(method+" "+path+" failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify("failed to read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newHTTPError(resp.StatusCode, fmt.Sprintf("%s %s returned status %d", method, path, resp.StatusCode))
	}
	logging.Debug("Station request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("bytes", len(data)))
	return data, nil
}

// Ping checks that the portal answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.retry(ctx, "ping", func() error {
		_, err := c.do(ctx, http.MethodGet, pathHome, nil)
		return err
	})
}

// Info fetches the station's identity and settings.
func (c *Client) Info(ctx context.Context) (*portal.Info, error) {
	var info portal.Info
	err := c.retry(ctx, "info", func() error {
		data, err := c.do(ctx, http.MethodGet, pathInfo, nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &info); err != nil {
			return newParseError("failed to parse station info", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// SaveSettings posts the home form.
func (c *Client) SaveSettings(ctx context.Context, s Settings) error {
	return c.retry(ctx, "settings", func() error {
		_, err := c.do(ctx, http.MethodPost, pathSettings, s.form())
		return err
	})
}

// SubmitCredentials posts the WiFi form. The station tries the network
// after answering, so success here says nothing about the connection.
func (c *Client) SubmitCredentials(ctx context.Context, creds Credentials) error {
	return c.retry(ctx, "credentials", func() error {
		_, err := c.do(ctx, http.MethodPost, pathWiFiSave, creds.form())
		return err
	})
}

// Reboot asks the station to restart. It is not retried: a reboot that
// went through looks exactly like a dropped connection.
func (c *Client) Reboot(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, pathReset, nil)
	return err
}
