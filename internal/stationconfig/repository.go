package stationconfig

import (
	"strings"

	"go.uber.org/zap"

	"github.com/pluvion/provision/internal/keystore"
	"github.com/pluvion/provision/internal/logging"
)

// Snapshot is a point-in-time copy of every station setting. Unset values
// are empty strings.
type Snapshot struct {
	Latitude        string `yaml:"latitude"`
	Longitude       string `yaml:"longitude"`
	BucketVolume    string `yaml:"bucket_volume"`
	ResetCountdown  string `yaml:"reset_countdown"`
	StationName     string `yaml:"station_name"`
	FirmwareVersion string `yaml:"firmware_version"`
}

// Repository gives typed access to the station settings held in a
// keystore.Store.
//
// This is where storage failures stop: every error from the store is
// logged and turned into an empty value (reads) or a false result (saves).
// Portal handlers and the controller never receive a storage error.
type Repository struct {
	store *keystore.Store
}

// NewRepository wraps store.
func NewRepository(store *keystore.Store) *Repository {
	return &Repository{store: store}
}

// Store returns the underlying key store.
func (r *Repository) Store() *keystore.Store {
	return r.store
}

// Get returns the value of key, or "" when it is unset or unreadable.
// Numeric keys come back with dot decimals even if an older writer left
// a comma on flash.
func (r *Repository) Get(key keystore.ConfigKey) string {
	value, ok, err := r.store.Read(key)
	if err != nil {
		logging.Warn("Station setting unreadable, treating as unset",
			zap.String("key", key.String()),
			zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	if key.Numeric() {
		value = strings.ReplaceAll(value, ",", ".")
	}
	return value
}

// Save replaces the value of key. It reports whether the value reached
// flash; failures are logged, not returned.
func (r *Repository) Save(key keystore.ConfigKey, value string) bool {
	if err := r.store.Write(key, value); err != nil {
		logging.Warn("Station setting not saved",
			zap.String("key", key.String()),
			zap.String("value", value),
			zap.Error(err))
		return false
	}
	return true
}

func (r *Repository) Latitude() string        { return r.Get(keystore.Latitude) }
func (r *Repository) Longitude() string       { return r.Get(keystore.Longitude) }
func (r *Repository) BucketVolume() string    { return r.Get(keystore.BucketVolume) }
func (r *Repository) ResetCountdown() string  { return r.Get(keystore.ResetCountdown) }
func (r *Repository) StationName() string     { return r.Get(keystore.StationName) }
func (r *Repository) FirmwareVersion() string { return r.Get(keystore.FirmwareVersion) }

// SaveCoordinates stores latitude and longitude. Both writes are attempted
// even if the first fails.
func (r *Repository) SaveCoordinates(lat, lon string) bool {
	okLat := r.Save(keystore.Latitude, lat)
	okLon := r.Save(keystore.Longitude, lon)
	return okLat && okLon
}

func (r *Repository) SaveBucketVolume(v string) bool {
	return r.Save(keystore.BucketVolume, v)
}

func (r *Repository) SaveResetCountdown(v string) bool {
	return r.Save(keystore.ResetCountdown, v)
}

func (r *Repository) SaveStationName(name string) bool {
	return r.Save(keystore.StationName, name)
}

func (r *Repository) SaveFirmwareVersion(v string) bool {
	return r.Save(keystore.FirmwareVersion, v)
}

// Reset deletes every station setting except the firmware version, which
// belongs to the image rather than the installation.
func (r *Repository) Reset() bool {
	ok := true
	for _, key := range keystore.AllKeys {
		if key == keystore.FirmwareVersion {
			continue
		}
		if err := r.store.DeleteAll(key); err != nil {
			logging.Warn("Station setting not deleted",
				zap.String("key", key.String()),
				zap.Error(err))
			ok = false
		}
	}
	return ok
}

// Snapshot reads every setting.
func (r *Repository) Snapshot() Snapshot {
	return Snapshot{
		Latitude:        r.Latitude(),
		Longitude:       r.Longitude(),
		BucketVolume:    r.BucketVolume(),
		ResetCountdown:  r.ResetCountdown(),
		StationName:     r.StationName(),
		FirmwareVersion: r.FirmwareVersion(),
	}
}

// StorageHealthy reports whether the last flash mount succeeded. A false
// result means values are being served from whatever state the
// filesystem was left in.
func (r *Repository) StorageHealthy() bool {
	return r.store.LastMountError() == nil
}
