package flashfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Dir is an FS backed by a directory on the host filesystem. It is used on
// Linux-based nodes where the "flash" is an ordinary mount point such as
// /var/lib/pluvion. Entries are listed in lexical order.
type Dir struct {
	Root string
}

// NewDir returns an FS rooted at root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

func (d *Dir) hostPath(p string) string {
	return filepath.Join(d.Root, filepath.FromSlash(Clean(p)))
}

// Mount creates the root directory if needed.
func (d *Dir) Mount() error {
	info, err := os.Stat(d.Root)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(d.Root, 0o755); err != nil {
			return fmt.Errorf("failed to create storage root %s: %w", d.Root, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat storage root %s: %w", d.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", d.Root)
	}
	return nil
}

func (d *Dir) Exists(p string) bool {
	info, err := os.Stat(d.hostPath(p))
	return err == nil && !info.IsDir()
}

func (d *Dir) Create(p string) error {
	return d.WriteFile(p, nil)
}

func (d *Dir) WriteFile(p string, data []byte) error {
	host := d.hostPath(p)
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	if err := os.WriteFile(host, data, 0o644); err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	return nil
}

func (d *Dir) ReadFile(p string) ([]byte, error) {
	data, err := os.ReadFile(d.hostPath(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", p, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

func (d *Dir) Remove(p string) error {
	err := os.Remove(d.hostPath(p))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", p, ErrNotExist)
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

// List walks dir and returns the slash paths of all regular files below it.
// A missing directory is an empty listing, not an error.
func (d *Dir) List(dir string) ([]string, error) {
	base := d.hostPath(dir)
	var out []string
	err := filepath.WalkDir(base, func(host string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && host == base {
				return filepath.SkipDir
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.Root, host)
		if err != nil {
			return err
		}
		out = append(out, "/"+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return out, nil
}

// Format removes everything below the root but keeps the root itself.
func (d *Dir) Format() error {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return fmt.Errorf("format %s: %w", d.Root, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(d.Root, e.Name())); err != nil {
			return fmt.Errorf("format %s: %w", d.Root, err)
		}
	}
	return nil
}

// String describes the store for log output.
func (d *Dir) String() string {
	return "dir:" + strings.TrimSuffix(d.Root, string(filepath.Separator))
}
