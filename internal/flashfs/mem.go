package flashfs

import (
	"fmt"
	"sync"
)

// Mem is an in-memory FS. It keeps entries in creation order, which is the
// order List reports them in, and supports failure injection so the
// degradation paths of the layers above can be exercised.
type Mem struct {
	mu      sync.Mutex
	order   []string
	content map[string][]byte
	mounted bool

	// MountErr, when set, is returned by Mount. Operations still proceed,
	// matching a flash driver that reports a mount failure but keeps going.
	MountErr error

	// CreateErr, RemoveErr and ListErr, when set, fail the matching operation.
	CreateErr error
	RemoveErr error
	ListErr   error

	// Mounts counts calls to Mount.
	Mounts int
}

// NewMem returns an empty in-memory filesystem.
func NewMem() *Mem {
	return &Mem{content: make(map[string][]byte)}
}

func (m *Mem) Mount() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Mounts++
	if m.MountErr != nil {
		return m.MountErr
	}
	m.mounted = true
	return nil
}

func (m *Mem) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.content[p]
	return ok
}

func (m *Mem) Create(p string) error {
	return m.WriteFile(p, nil)
}

func (m *Mem) WriteFile(p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return fmt.Errorf("create %s: %w", p, m.CreateErr)
	}
	if _, ok := m.content[p]; !ok {
		m.order = append(m.order, p)
	}
	m.content[p] = append([]byte(nil), data...)
	return nil
}

func (m *Mem) ReadFile(p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.content[p]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (m *Mem) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return fmt.Errorf("remove %s: %w", p, m.RemoveErr)
	}
	if _, ok := m.content[p]; !ok {
		return fmt.Errorf("remove %s: %w", p, ErrNotExist)
	}
	delete(m.content, p)
	for i, name := range m.order {
		if name == p {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Mem) List(dir string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, fmt.Errorf("list %s: %w", dir, m.ListErr)
	}
	var out []string
	for _, name := range m.order {
		if IsBelow(name, dir) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (m *Mem) Format() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.content = make(map[string][]byte)
	return nil
}

// Paths returns every entry in storage order.
func (m *Mem) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}
