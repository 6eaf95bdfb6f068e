package flashfs

import (
	"errors"
	"path"
	"strings"
)

// ErrNotExist is returned when a path does not name an entry.
var ErrNotExist = errors.New("flashfs: entry does not exist")

// FS is the minimal flash file-store API the provisioner relies on.
//
// Paths are slash separated and absolute ("/stt/lat/-23.55"). Like the flat
// SPIFFS namespace it models, directories are only prefixes: List returns
// the full path of every entry below dir, and creating an entry implicitly
// creates its parents.
type FS interface {
	// Mount makes the filesystem usable. It is idempotent and is called
	// before every operation by the layers above.
	Mount() error

	// Exists reports whether path names an entry.
	Exists(path string) bool

	// Create opens path for writing, truncating any previous content, and
	// closes it again. The entry exists afterwards with zero length.
	Create(path string) error

	// WriteFile replaces the content of path.
	WriteFile(path string, data []byte) error

	// ReadFile returns the content of path.
	ReadFile(path string) ([]byte, error)

	// Remove deletes a single entry.
	Remove(path string) error

	// List returns the full paths of all entries below dir in storage order.
	List(dir string) ([]string, error)

	// Format erases every entry.
	Format() error
}

// Clean normalizes p into the absolute slash form used by FS implementations.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// Join concatenates a directory and an entry name without cleaning the
// name, so values such as "-23.55" or "1.5" are kept byte for byte.
func Join(dir, name string) string {
	return strings.TrimSuffix(Clean(dir), "/") + "/" + name
}

// IsBelow reports whether p lies strictly below dir.
func IsBelow(p, dir string) bool {
	prefix := strings.TrimSuffix(Clean(dir), "/") + "/"
	return strings.HasPrefix(p, prefix) && len(p) > len(prefix)
}
