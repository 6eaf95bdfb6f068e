package stationclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pluvion/provision/internal/flashfs"
	"github.com/pluvion/provision/internal/keystore"
	"github.com/pluvion/provision/internal/portal"
	"github.com/pluvion/provision/internal/radio"
	"github.com/pluvion/provision/internal/stationconfig"
)

// newPortal starts a real portal on loopback and serves its routes.
func newPortal(t *testing.T) *httptest.Server {
	t.Helper()
	repo := stationconfig.NewRepository(keystore.New(flashfs.NewMem()))
	opts := portal.DefaultOptions()
	opts.HTTPAddr = "127.0.0.1:0"
	opts.DNSAddr = "127.0.0.1:0"
	p := portal.New(radio.NewSimulator(), repo, opts)
	if err := p.Start("PluviOn_Setup", ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(p.Stop)

	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func fastClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := New(addr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.SetRetry(2, time.Millisecond)
	c.MaxRetryDelay = 5 * time.Millisecond
	return c
}

func fastVerify() *VerificationOptions {
	return &VerificationOptions{
		MaxRetries:    1,
		InitialDelay:  time.Millisecond,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "http://192.168.4.1", false},
		{"192.168.4.1", "http://192.168.4.1", false},
		{"10.0.0.5:8080", "http://10.0.0.5:8080", false},
		{"http://10.0.0.5/", "http://10.0.0.5", false},
		{"https://station.local/portal/?x=1", "https://station.local/portal", false},
		{"ftp://10.0.0.5", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		got, err := BaseURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("BaseURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("BaseURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSettingsValidate(t *testing.T) {
	valid := Settings{Name: "estacao-01", Latitude: "-23,5505", Longitude: "-46.6333", BucketVolume: "2.47"}
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"valid", func(s *Settings) {}, ""},
		{"valid countdown", func(s *Settings) { s.ResetCountdown = "3600000" }, ""},
		{"bad name", func(s *Settings) { s.Name = "has space" }, "station-name"},
		{"no latitude", func(s *Settings) { s.Latitude = "" }, "latitude is required"},
		{"bucket too small", func(s *Settings) { s.BucketVolume = "1.5" }, "bucket calibration"},
		{"negative countdown", func(s *Settings) { s.ResetCountdown = "-1" }, "reset countdown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
			if !IsValidationError(err) {
				t.Errorf("IsValidationError(%v) = false, want true", err)
			}
		})
	}
}

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		creds   Credentials
		wantErr bool
	}{
		{Credentials{SSID: "Casa", Passphrase: "segredo123"}, false},
		{Credentials{SSID: "Casa", StaticIP: "10.0.1.99", Gateway: "10.0.1.1", Subnet: "255.255.255.0"}, false},
		{Credentials{}, true},
		{Credentials{SSID: strings.Repeat("x", 33)}, true},
		{Credentials{SSID: "Casa", Gateway: "10.0.1.1"}, true},
	}
	for _, tt := range tests {
		if err := tt.creds.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%+v) error = %v, wantErr %v", tt.creds, err, tt.wantErr)
		}
	}
}

func TestSaveAndVerifyAgainstPortal(t *testing.T) {
	srv := newPortal(t)
	c := fastClient(t, srv.URL)
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	s := Settings{
		Name:           "estacao-01",
		Latitude:       "-23,5505",
		Longitude:      "-46,6333",
		BucketVolume:   "2,47",
		ResetCountdown: "3600000",
	}
	result := c.SaveAndVerify(ctx, s, fastVerify())
	if !result.Success {
		t.Fatalf("SaveAndVerify() failed: %v (mismatches %v)", result.Error, result.Mismatches)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.Actual.Latitude != "-23.5505" || result.Actual.StationID != "PluviOn_10597059" {
		t.Errorf("Actual = %+v", result.Actual)
	}
}

func TestSaveAndVerifyRejectsInvalidLocally(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	result := fastClient(t, srv.URL).SaveAndVerify(context.Background(), Settings{Name: "estacao-01"}, fastVerify())
	if result.Success || !IsValidationError(result.Error) {
		t.Errorf("SaveAndVerify() = %+v, want validation error", result)
	}
	mu.Lock()
	defer mu.Unlock()
	if hits != 0 {
		t.Errorf("station saw %d requests, want 0", hits)
	}
}

func TestVerifyReportsMismatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(portal.Info{Name: "outra", Latitude: "-23.5505"})
	}))
	defer srv.Close()

	result := fastClient(t, srv.URL).VerifySettings(context.Background(),
		Settings{Name: "estacao-01", Latitude: "-23,5505"}, fastVerify())
	if result.Success {
		t.Fatal("VerifySettings() succeeded, want mismatch")
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
	if len(result.Mismatches) != 1 || !strings.Contains(result.Mismatches[0], "station-name") {
		t.Errorf("Mismatches = %v, want station-name only", result.Mismatches)
	}
	if !IsValidationError(result.Error) {
		t.Errorf("Error = %v, want validation error", result.Error)
	}
}

func TestSubmitCredentials(t *testing.T) {
	var mu sync.Mutex
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wifisave" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		mu.Lock()
		got = r.PostForm
		mu.Unlock()
	}))
	defer srv.Close()

	err := fastClient(t, srv.URL).SubmitCredentials(context.Background(), Credentials{
		SSID:       "Casa",
		Passphrase: "segredo123",
		StaticIP:   "10.0.1.99",
		Gateway:    "10.0.1.1",
		Subnet:     "255.255.255.0",
		Params:     map[string]string{"server": "pluvion.com.br"},
	})
	if err != nil {
		t.Fatalf("SubmitCredentials() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for field, want := range map[string]string{
		"s": "Casa", "p": "segredo123", "ip": "10.0.1.99", "gw": "10.0.1.1", "sn": "255.255.255.0", "server": "pluvion.com.br",
	} {
		if got.Get(field) != want {
			t.Errorf("form %s = %q, want %q", field, got.Get(field), want)
		}
	}
}

func TestRetries(t *testing.T) {
	tests := []struct {
		name      string
		status    []int
		wantCalls int
		wantErr   bool
	}{
		{"recovers from server errors", []int{500, 503, 200}, 3, false},
		{"gives up after max retries", []int{500, 500, 500, 500}, 3, true},
		{"client errors are final", []int{404, 200}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				status := tt.status[calls]
				calls++
				mu.Unlock()
				w.WriteHeader(status)
			}))
			defer srv.Close()

			err := fastClient(t, srv.URL).Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Ping() error = %v, wantErr %v", err, tt.wantErr)
			}
			mu.Lock()
			defer mu.Unlock()
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestConnectionRefused(t *testing.T) {
	c := fastClient(t, "127.0.0.1:1")
	c.SetRetry(0, time.Millisecond)

	err := c.Ping(context.Background())
	var se *StationError
	if !errors.As(err, &se) {
		t.Fatalf("Ping() error = %v, want *StationError", err)
	}
	if se.Type != ErrTypeConnectionRefused {
		t.Errorf("Type = %v, want %v", se.Type, ErrTypeConnectionRefused)
	}
	if hints := Troubleshooting(err); len(hints) == 0 || !strings.Contains(hints[0], "not serving its portal") {
		t.Errorf("Troubleshooting() = %v", hints)
	}
}

func TestBadInfoIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>old firmware</html>"))
	}))
	defer srv.Close()

	_, err := fastClient(t, srv.URL).Info(context.Background())
	var se *StationError
	if !errors.As(err, &se) || se.Type != ErrTypeParse {
		t.Errorf("Info() error = %v, want parse error", err)
	}
}
