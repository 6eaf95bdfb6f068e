package stationconfig

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Bucket calibration bounds accepted by the configuration form.
const (
	MinBucketVolume = 2.00
	MaxBucketVolume = 5.00
)

// MaxStationNameLength matches the form's maxlength attribute.
const MaxStationNameLength = 15

var stationNamePattern = regexp.MustCompile(`(?i)^[a-z0-9\-_]+$`)

// ValidationWarning describes a value the configuration form would have
// refused. The portal itself never rejects input on these grounds; the
// warnings are for operator tooling.
type ValidationWarning struct {
	Field   string
	Message string
}

func (w *ValidationWarning) Error() string {
	return fmt.Sprintf("%s: %s", w.Field, w.Message)
}

// NewValidationWarning creates a warning for field.
func NewValidationWarning(field, message string) *ValidationWarning {
	return &ValidationWarning{Field: field, Message: message}
}

// IsValidationWarning checks if an error is a validation warning
func IsValidationWarning(err error) bool {
	var w *ValidationWarning
	return errors.As(err, &w)
}

func parseDecimal(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	return f, err == nil
}

// ValidateLatitude requires a non-zero decimal in [-90, 90].
func ValidateLatitude(s string) error {
	f, ok := parseDecimal(s)
	if !ok || f == 0 {
		return NewValidationWarning("latitude", "latitude is required")
	}
	if f < -90 || f > 90 {
		return NewValidationWarning("latitude", fmt.Sprintf("latitude must be between -90 and 90, got %s", s))
	}
	return nil
}

// ValidateLongitude requires a non-zero decimal in [-180, 180].
func ValidateLongitude(s string) error {
	f, ok := parseDecimal(s)
	if !ok || f == 0 {
		return NewValidationWarning("longitude", "longitude is required")
	}
	if f < -180 || f > 180 {
		return NewValidationWarning("longitude", fmt.Sprintf("longitude must be between -180 and 180, got %s", s))
	}
	return nil
}

// ValidateBucketVolume requires a calibration between 2.00 and 5.00 (e.g. 2.47).
func ValidateBucketVolume(s string) error {
	f, ok := parseDecimal(s)
	if !ok || f < MinBucketVolume || f > MaxBucketVolume {
		return NewValidationWarning("bucket-volume",
			fmt.Sprintf("bucket calibration must be between %.2f and %.2f (e.g. 2.47), got %q", MinBucketVolume, MaxBucketVolume, s))
	}
	return nil
}

// ValidateResetCountdown requires a non-negative millisecond count.
func ValidateResetCountdown(s string) error {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return NewValidationWarning("reset-countdown", fmt.Sprintf("reset countdown must be a non-negative number of milliseconds, got %q", s))
	}
	return nil
}

// ValidateStationName allows letters, digits, '-' and '_'.
func ValidateStationName(s string) error {
	if !stationNamePattern.MatchString(s) {
		return NewValidationWarning("station-name", "name may only contain a-z, A-Z, 0-9, '-' or '_'")
	}
	if len(s) > MaxStationNameLength {
		return NewValidationWarning("station-name", fmt.Sprintf("name too long (max %d chars): %d chars", MaxStationNameLength, len(s)))
	}
	return nil
}

// ValidateSSID validates a WiFi SSID.
// SSIDs must be non-empty and <= 32 characters (802.11 limit).
func ValidateSSID(ssid string) error {
	if ssid == "" {
		return NewValidationWarning("ssid", "WiFi SSID cannot be empty")
	}
	if len(ssid) > 32 {
		return NewValidationWarning("ssid", fmt.Sprintf("WiFi SSID too long (max 32 chars): %d chars", len(ssid)))
	}
	return nil
}

// ValidateAPPassword checks an access point passphrase. Empty means an
// open access point; anything else must be 8 to 63 characters or the
// access point falls back to open.
func ValidateAPPassword(password string) error {
	if password == "" {
		return nil
	}
	if len(password) < 8 || len(password) > 63 {
		return NewValidationWarning("ap-password",
			fmt.Sprintf("access point password must be 8-63 chars, got %d; it will be ignored", len(password)))
	}
	return nil
}

// Validate checks the value for key-specific rules. Keys without rules
// always pass.
func Validate(field, value string) error {
	switch field {
	case "latitude":
		return ValidateLatitude(value)
	case "longitude":
		return ValidateLongitude(value)
	case "bucket-volume":
		return ValidateBucketVolume(value)
	case "reset-countdown":
		return ValidateResetCountdown(value)
	case "station-name":
		return ValidateStationName(value)
	}
	return nil
}

// ValidateSnapshot returns a warning for every setting the configuration
// form would refuse. Unset reset countdown and firmware version are fine.
func ValidateSnapshot(s Snapshot) []error {
	var warnings []error
	checks := []error{
		ValidateLatitude(s.Latitude),
		ValidateLongitude(s.Longitude),
		ValidateBucketVolume(s.BucketVolume),
		ValidateStationName(s.StationName),
	}
	if s.ResetCountdown != "" {
		checks = append(checks, ValidateResetCountdown(s.ResetCountdown))
	}
	for _, err := range checks {
		if err != nil {
			warnings = append(warnings, err)
		}
	}
	return warnings
}
