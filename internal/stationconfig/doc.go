// Package stationconfig exposes the station's persisted settings
// (coordinates, bucket calibration, reset countdown, station name and
// firmware version) as typed accessors over keystore.
//
// Repository is the fail-open boundary of the storage stack. The key store
// below it returns explicit errors; Repository logs them and hands callers
// an empty string or a false result instead. Nothing above this package
// sees a storage error.
//
// Values are not validated on save. The portal's configuration form checks
// them in the browser and the server trusts what it receives. The
// validators in this package reproduce those browser checks so that
// operator tooling can warn about the same conditions:
//
//	if err := stationconfig.ValidateBucketVolume("1.5"); err != nil {
//	    fmt.Println("warning:", err)
//	}
package stationconfig
