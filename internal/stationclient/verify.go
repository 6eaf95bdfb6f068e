package stationclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/pluvion/provision/internal/keystore"
	"github.com/pluvion/provision/internal/portal"
)

// VerificationOptions configures how settings are read back after a save.
type VerificationOptions struct {
	// MaxRetries is the number of extra reads after the first mismatch
	MaxRetries uint64

	// InitialDelay is the wait before the first read
	InitialDelay time.Duration

	// RetryDelay is the delay between reads, doubled up to MaxRetryDelay
	RetryDelay time.Duration

	// MaxRetryDelay caps RetryDelay
	MaxRetryDelay time.Duration
}

// DefaultVerificationOptions returns the defaults used by SaveAndVerify.
func DefaultVerificationOptions() *VerificationOptions {
	return &VerificationOptions{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 5 * time.Second,
	}
}

// VerificationResult contains the results of a settings verification
type VerificationResult struct {
	// Success indicates whether every field matched
	Success bool

	// Attempts is the number of reads made
	Attempts int

	// Actual is the last info read from the station
	Actual *portal.Info

	// Mismatches lists every field that differed on the last read
	Mismatches []string

	// Error is set when Success is false
	Error error
}

// expectedValue is what the station holds after storing v: numeric-looking
// values have their decimal commas rewritten.
func expectedValue(v string) string {
	return keystore.Normalize(v)
}

// Mismatches compares the settings that were posted with what the station
// reports.
func Mismatches(expected Settings, actual *portal.Info) []string {
	var out []string
	check := func(field, want, got string) {
		if want = expectedValue(want); want != got {
			out = append(out, fmt.Sprintf("%s: expected %q, got %q", field, want, got))
		}
	}
	check("station-name", expected.Name, actual.Name)
	check("latitude", expected.Latitude, actual.Latitude)
	check("longitude", expected.Longitude, actual.Longitude)
	check("bucket-volume", expected.BucketVolume, actual.BucketVolume)
	check("reset-countdown", expected.ResetCountdown, actual.ResetCountdown)
	return out
}

func formatMismatches(mismatches []string) string {
	if len(mismatches) == 1 {
		return mismatches[0]
	}
	return fmt.Sprintf("%d mismatches: %s", len(mismatches), strings.Join(mismatches, "; "))
}

// VerifySettings reads the station info until it matches expected or the
// retries run out.
func (c *Client) VerifySettings(ctx context.Context, expected Settings, opts *VerificationOptions) *VerificationResult {
	if opts == nil {
		opts = DefaultVerificationOptions()
	}
	result := &VerificationResult{}

	select {
	case <-time.After(opts.InitialDelay):
	case <-ctx.Done():
		result.Error = ctx.Err()
		return result
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.RetryDelay
	b.MaxInterval = opts.MaxRetryDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		result.Attempts++
		info, err := c.Info(ctx)
		if err != nil {
			return fmt.Errorf("attempt %d: failed to read station info: %w", result.Attempts, err)
		}
		result.Actual = info
		result.Mismatches = Mismatches(expected, info)
		if len(result.Mismatches) > 0 {
			return fmt.Errorf("attempt %d: %s", result.Attempts, formatMismatches(result.Mismatches))
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, opts.MaxRetries), ctx))

	if err != nil {
		if len(result.Mismatches) > 0 {
			err = newValidationError(fmt.Sprintf("verification failed after %d attempts: %s",
				result.Attempts, formatMismatches(result.Mismatches)))
		}
		result.Error = err
		return result
	}
	result.Success = true
	return result
}

// SaveAndVerify validates settings locally, posts them and reads them back.
func (c *Client) SaveAndVerify(ctx context.Context, s Settings, opts *VerificationOptions) *VerificationResult {
	if err := s.Validate(); err != nil {
		return &VerificationResult{Error: err}
	}
	if err := c.SaveSettings(ctx, s); err != nil {
		return &VerificationResult{Error: fmt.Errorf("save failed: %w", err)}
	}
	return c.VerifySettings(ctx, s, opts)
}
