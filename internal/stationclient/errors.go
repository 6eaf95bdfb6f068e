package stationclient

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
)

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeNetwork indicates a network-level error
	ErrTypeNetwork ErrorType = iota
	// ErrTypeTimeout indicates the station did not answer in time
	ErrTypeTimeout
	// ErrTypeConnectionRefused indicates nothing listens on the portal port
	ErrTypeConnectionRefused
	// ErrTypeDNS indicates a hostname could not be resolved
	ErrTypeDNS
	// ErrTypeHTTP indicates a non-200 response
	ErrTypeHTTP
	// ErrTypeParse indicates a malformed response body
	ErrTypeParse
	// ErrTypeValidation indicates values the station would not keep
	ErrTypeValidation
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeConnectionRefused:
		return "Connection Refused"
	case ErrTypeDNS:
		return "DNS Error"
	case ErrTypeHTTP:
		return "HTTP Error"
	case ErrTypeParse:
		return "Parse Error"
	case ErrTypeValidation:
		return "Validation Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// StationError is returned by every Client operation.
type StationError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Err        error
	Retryable  bool
}

func (e *StationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *StationError) Unwrap() error {
	return e.Err
}

// classify turns a transport error into a StationError. Everything but
// DNS failures is worth retrying: a phone-sized access point drops
// connections while it scans.
func classify(message string, err error) *StationError {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}

	e := &StationError{Type: ErrTypeNetwork, Message: message, Err: err, Retryable: true}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case os.IsTimeout(err):
		e.Type = ErrTypeTimeout
	case errors.As(err, &dnsErr):
		e.Type = ErrTypeDNS
		e.Retryable = false
	case errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.ECONNREFUSED):
		e.Type = ErrTypeConnectionRefused
	}
	return e
}

func newHTTPError(statusCode int, message string) *StationError {
	return &StationError{
		Type:       ErrTypeHTTP,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  statusCode >= http.StatusInternalServerError,
	}
}

func newParseError(message string, err error) *StationError {
	return &StationError{Type: ErrTypeParse, Message: message, Err: err}
}

func newValidationError(message string) *StationError {
	return &StationError{Type: ErrTypeValidation, Message: message}
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var se *StationError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var se *StationError
	return errors.As(err, &se) && se.Type == ErrTypeValidation
}

// Troubleshooting returns hints for an error, suitable for a failure box.
func Troubleshooting(err error) []string {
	var se *StationError
	if !errors.As(err, &se) {
		return []string{"Run again with --log-level debug for details"}
	}

	switch se.Type {
	case ErrTypeTimeout:
		return []string{
			"Check that the station is powered and its portal is up",
			"Move closer to the station's access point",
			"Try a longer --timeout",
		}
	case ErrTypeConnectionRefused:
		return []string{
			"The station is not serving its portal; it may already be online",
			"Run 'pluvion-cfg discover' to find its current address",
		}
	case ErrTypeDNS:
		return []string{
			"Use the station's IP address (192.168.4.1 on its access point)",
		}
	case ErrTypeHTTP:
		if se.StatusCode >= http.StatusInternalServerError {
			return []string{
				fmt.Sprintf("The station returned HTTP %d", se.StatusCode),
				"Reboot the station and try again",
			}
		}
		return []string{"Check the --station address points at a Pluvi.On portal"}
	case ErrTypeParse:
		return []string{
			"The station's firmware may be too old to answer /i.json",
			"Open the portal in a browser to check the settings by hand",
		}
	case ErrTypeValidation:
		return []string{"Fix the values named in the error and try again"}
	default:
		return []string{
			"Join the station's access point (PluviOn_<chip id>) first",
			"Check the --station address",
		}
	}
}
