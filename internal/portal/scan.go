package portal

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/radio"
)

// SignalQuality maps RSSI in dBm to a 0-100 score: -100 and below is 0,
// -50 and above is 100, linear in between.
func SignalQuality(rssi int) int {
	switch {
	case rssi <= -100:
		return 0
	case rssi >= -50:
		return 100
	default:
		return 2 * (rssi + 100)
	}
}

// SortBySignal orders networks strongest first. Networks with equal RSSI
// keep their scan order.
func SortBySignal(networks []radio.Network) []radio.Network {
	out := append([]radio.Network(nil), networks...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RSSI > out[j].RSSI
	})
	return out
}

// RemoveDuplicates keeps the first occurrence of each SSID. On a sorted
// list that is the strongest one.
func RemoveDuplicates(networks []radio.Network) []radio.Network {
	seen := make(map[string]bool, len(networks))
	out := make([]radio.Network, 0, len(networks))
	for _, n := range networks {
		if seen[n.SSID] {
			logging.Debug("Duplicate network dropped", zap.String("ssid", n.SSID), zap.Int("rssi", n.RSSI))
			continue
		}
		seen[n.SSID] = true
		out = append(out, n)
	}
	return out
}

// PrepareNetworks sorts a scan result and optionally drops duplicate SSIDs.
// Quality filtering happens at render time so weak networks still take
// part in deduplication.
func PrepareNetworks(networks []radio.Network, dedup bool) []radio.Network {
	sorted := SortBySignal(networks)
	if dedup {
		return RemoveDuplicates(sorted)
	}
	return sorted
}

// Visible reports whether a network of the given quality is listed under
// minQuality. A negative minimum disables the filter. The bound is
// inclusive: a network exactly at minQuality is shown, where the sensor
// firmware's list hides it (it keeps only quality > minimum).
func Visible(quality, minQuality int) bool {
	return minQuality < 0 || quality >= minQuality
}

// Scanner caches radio scans. A new scan is issued at most once per
// interval; requests in between get the previous result.
type Scanner struct {
	driver  radio.Driver
	limiter *rate.Limiter

	mu     sync.Mutex
	cached []radio.Network
	err    error
}

// NewScanner returns a Scanner allowing one scan per interval. A zero
// interval scans on every call.
func NewScanner(driver radio.Driver, interval time.Duration) *Scanner {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Scanner{
		driver:  driver,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Scan returns the raw scan result, possibly from cache.
func (s *Scanner) Scan(ctx context.Context) ([]radio.Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && !s.limiter.Allow() {
		logging.Debug("Serving cached scan", zap.Int("networks", len(s.cached)))
		return append([]radio.Network(nil), s.cached...), s.err
	}
	if s.cached == nil {
		// The first scan always runs; consume the token so the interval
		// starts now.
		s.limiter.Allow()
	}

	networks, err := s.driver.Scan(ctx)
	if err != nil {
		logging.Warn("Network scan failed", zap.Error(err))
		s.err = err
		s.cached = []radio.Network{}
		return nil, err
	}
	logging.Debug("Scan done", zap.Int("networks", len(networks)))
	s.cached, s.err = append([]radio.Network{}, networks...), nil
	return append([]radio.Network(nil), networks...), nil
}
