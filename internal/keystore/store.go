package keystore

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pluvion/provision/internal/flashfs"
	"github.com/pluvion/provision/internal/logging"
)

// numericPattern matches values that look like a locale-formatted number:
// digits with an optional sign and any mix of ',' and '.' separators.
var numericPattern = regexp.MustCompile(`^[+-]?[0-9.,]+$`)

// Normalize rewrites numeric-looking values to dot decimals ("-23,55" ->
// "-23.55"). Anything else is returned unchanged.
func Normalize(value string) string {
	if !strings.ContainsAny(value, "0123456789") || !numericPattern.MatchString(value) {
		return value
	}
	return strings.ReplaceAll(value, ",", ".")
}

var (
	entryEscaper   = strings.NewReplacer("%", "%25", "/", "%2F")
	entryUnescaper = strings.NewReplacer("%25", "%", "%2F", "/", "%2E", ".")
)

// entryName turns a value into a single path element. '%' and '/' are
// percent-encoded and the names "." and ".." are spelled out, so the entry
// always lands directly under its key's directory. Values made of digits,
// letters, signs and dots are stored as is.
func entryName(value string) string {
	switch value {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return entryEscaper.Replace(value)
}

// entryValue reverses entryName.
func entryValue(name string) string {
	return entryUnescaper.Replace(name)
}

// Store keeps one scalar per ConfigKey by naming a file after the value.
//
// Each key owns a directory that holds at most one entry; the entry's name
// is the value. Write is DeleteAll followed by Create, two separate flash
// operations: losing power between them leaves the key unset (an empty
// read), never holding a stale value. This mirrors the layout the sensor
// firmware reads and is kept for compatibility, not as a recommended design.
//
// Store has no locking of its own beyond serializing mount checks; callers
// must not write the same key concurrently.
type Store struct {
	fs flashfs.FS

	mu           sync.Mutex
	lastMountErr error
}

// New creates a Store over fs.
func New(fs flashfs.FS) *Store {
	return &Store{fs: fs}
}

// FS returns the underlying filesystem.
func (s *Store) FS() flashfs.FS {
	return s.fs
}

// ensureMounted (re)mounts the filesystem before each operation. A failed
// mount is logged and remembered but the operation continues anyway.
func (s *Store) ensureMounted(key ConfigKey) {
	err := s.fs.Mount()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastMountErr = newStorageError(ErrTypeMount, key, "", err)
		logging.LogStorage("mount", key.Path(), "", s.lastMountErr)
		return
	}
	s.lastMountErr = nil
}

// LastMountError returns the most recent mount failure, or nil if the last
// mount attempt succeeded.
func (s *Store) LastMountError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMountErr
}

// Write replaces the value of key. The old entry is always deleted first;
// an empty value leaves the key unset. If the delete fails nothing is
// created, so a key never holds two entries.
func (s *Store) Write(key ConfigKey, value string) error {
	if err := s.DeleteAll(key); err != nil {
		return err
	}
	if value == "" {
		return nil
	}

	value = Normalize(value)
	s.ensureMounted(key)

	entry := flashfs.Join(key.Path(), entryName(value))
	if err := s.fs.Create(entry); err != nil {
		serr := newStorageError(ErrTypeCreate, key, entry, err)
		logging.LogStorage("write", key.Path(), value, serr)
		return serr
	}
	logging.LogStorage("write", key.Path(), value, nil)
	return nil
}

// Read returns the stored value of key. ok is false when the key has no
// entry, which is not an error.
func (s *Store) Read(key ConfigKey) (value string, ok bool, err error) {
	s.ensureMounted(key)

	entries, err := s.fs.List(key.Path())
	if err != nil {
		serr := newStorageError(ErrTypeList, key, key.Path(), err)
		logging.LogStorage("read", key.Path(), "", serr)
		return "", false, serr
	}
	if len(entries) == 0 {
		logging.LogStorage("read-empty", key.Path(), "", nil)
		return "", false, nil
	}

	value = entryValue(strings.TrimPrefix(entries[0], strings.TrimSuffix(key.Path(), "/")+"/"))
	logging.LogStorage("read", key.Path(), value, nil)
	return value, true, nil
}

// DeleteAll removes every entry under key. It keeps going after a failed
// removal and returns the first failure.
func (s *Store) DeleteAll(key ConfigKey) error {
	s.ensureMounted(key)

	entries, err := s.fs.List(key.Path())
	if err != nil {
		serr := newStorageError(ErrTypeList, key, key.Path(), err)
		logging.LogStorage("delete", key.Path(), "", serr)
		return serr
	}

	var first error
	for _, entry := range entries {
		if err := s.fs.Remove(entry); err != nil {
			serr := newStorageError(ErrTypeDelete, key, entry, err)
			logging.LogStorage("delete", key.Path(), entry, serr)
			if first == nil {
				first = serr
			}
			continue
		}
		logging.LogStorage("delete", key.Path(), entry, nil)
	}
	return first
}

// ReadInt returns the value of key as an integer, or 0 when it is unset or
// not a number.
func (s *Store) ReadInt(key ConfigKey) int64 {
	value, ok, err := s.Read(key)
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(Normalize(value)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ReadFloat returns the value of key as a float, or 0 when it is unset or
// not a number.
func (s *Store) ReadFloat(key ConfigKey) float64 {
	value, ok, err := s.Read(key)
	if err != nil || !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(Normalize(value)), 64)
	if err != nil {
		return 0
	}
	return f
}

// Entries lists every entry on the filesystem in storage order.
func (s *Store) Entries() ([]string, error) {
	s.ensureMounted(FirmwareVersion)
	return s.fs.List("/")
}

// Format erases the whole filesystem.
func (s *Store) Format() error {
	s.ensureMounted(FirmwareVersion)
	return s.fs.Format()
}
