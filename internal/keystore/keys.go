package keystore

import (
	"fmt"
	"strings"
)

// ConfigKey identifies one persisted station setting.
type ConfigKey int

const (
	Latitude ConfigKey = iota
	Longitude
	BucketVolume
	ResetCountdown
	StationName
	FirmwareVersion
)

// AllKeys lists every key in display order.
var AllKeys = []ConfigKey{Latitude, Longitude, BucketVolume, ResetCountdown, StationName, FirmwareVersion}

// Directory layout on flash. These paths are shared with the sensor
// firmware and must not change.
var keyPaths = map[ConfigKey]string{
	Latitude:        "/stt/lat",
	Longitude:       "/stt/lon",
	BucketVolume:    "/stt/bucketvol",
	ResetCountdown:  "/stt/ttr",
	StationName:     "/stt/name",
	FirmwareVersion: "/fmwver",
}

var keyNames = map[ConfigKey]string{
	Latitude:        "latitude",
	Longitude:       "longitude",
	BucketVolume:    "bucket-volume",
	ResetCountdown:  "reset-countdown",
	StationName:     "station-name",
	FirmwareVersion: "firmware-version",
}

// Path returns the directory holding the key's single value entry.
func (k ConfigKey) Path() string {
	return keyPaths[k]
}

// String returns the CLI name of the key.
func (k ConfigKey) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ConfigKey(%d)", int(k))
}

// Numeric reports whether the key holds a decimal value. Reads of numeric
// keys normalize commas the same way writes do.
func (k ConfigKey) Numeric() bool {
	switch k {
	case Latitude, Longitude, BucketVolume, ResetCountdown:
		return true
	}
	return false
}

// ParseKey resolves a CLI name ("latitude", "lat", "/stt/lat") to a key.
func ParseKey(s string) (ConfigKey, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range AllKeys {
		if s == keyNames[k] || s == keyPaths[k] {
			return k, nil
		}
	}
	switch s {
	case "lat":
		return Latitude, nil
	case "lon", "lng":
		return Longitude, nil
	case "vol", "bucketvol":
		return BucketVolume, nil
	case "ttr":
		return ResetCountdown, nil
	case "name":
		return StationName, nil
	case "fmwver", "firmware":
		return FirmwareVersion, nil
	}
	return 0, fmt.Errorf("unknown config key %q", s)
}
