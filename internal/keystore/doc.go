// Package keystore persists the station's scalar settings on flash using
// the filename-as-value layout shared with the sensor firmware.
//
// # Layout
//
// Every ConfigKey owns a directory. The current value is the name of the
// single entry inside it; the entry's content is always empty:
//
//	/stt/lat/-23.55
//	/stt/lon/-46.63
//	/stt/bucketvol/3.2
//	/stt/ttr/7
//	/stt/name/station_01
//	/fmwver/1.4.2
//
// Reading a key lists its directory and returns the first entry name with
// the directory prefix stripped. An empty directory means "unset".
//
// # Consistency
//
// Write is DeleteAll followed by Create. The two steps are separate flash
// operations with no transaction around them, so the store is only weakly
// consistent:
//
//   - after a successful Write the key holds exactly one entry
//   - an interruption between the steps leaves the key unset
//   - if DeleteAll fails, Write stops before creating so two entries never
//     coexist
//
// Numeric-looking values ("-23,55") are normalized to dot decimals before
// they are written, because a comma would otherwise be persisted as part of
// the filename.
//
// # Mount failures
//
// The filesystem is (re)mounted before every operation. A mount failure is
// logged at warn level and recorded in LastMountError, but the operation
// proceeds against whatever state the filesystem is in. Callers that need
// to surface the condition check LastMountError; nothing else reports it.
//
// # Errors
//
// List, delete and create failures are returned as *StorageError. The
// repository layer in stationconfig logs them and degrades the value to
// an empty string.
package keystore
