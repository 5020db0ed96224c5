package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Call records a single method invocation on [Memory].
type Call struct {
	Method string // "Open", "Stat", "Remove", "Rename", "Mkdir", "ReadDir" or "RemoveDir"
	Path   string
	Mode   Mode
}

// Memory is an in-memory Provider shaped like a small flash file system: a
// flat map of files, explicit directories, a cap on concurrently open
// handles and a fixed capacity. It records calls (spy) and returns injected
// errors per path (checked first). Safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	files    map[string][]byte
	versions map[string]uint64
	gen      uint64
	dirs     map[string]bool
	errors   map[string]error
	calls    []Call
	open     int
	maxOpen  int
	capacity uint64
}

// MemoryOption configures a Memory provider.
type MemoryOption func(*Memory)

// WithMaxOpenFiles caps concurrently open handles; zero means unlimited.
func WithMaxOpenFiles(n int) MemoryOption {
	return func(m *Memory) { m.maxOpen = n }
}

// WithCapacity sets the reported total size in bytes.
func WithCapacity(n uint64) MemoryOption {
	return func(m *Memory) { m.capacity = n }
}

// NewMemory returns an empty in-memory provider.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		files:    make(map[string][]byte),
		versions: make(map[string]uint64),
		dirs:     map[string]bool{"": true},
		errors:   make(map[string]error),
		capacity: 1 << 20,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func clean(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

// SetFile stores data at p, creating parent directories.
func (m *Memory) SetFile(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	m.mkdirLocked(path.Dir(p))
	m.files[p] = append([]byte(nil), data...)
	m.touchLocked(p)
}

// touchLocked gives p a fresh version.
func (m *Memory) touchLocked(p string) {
	m.gen++
	m.versions[p] = m.gen
}

// File returns a copy of the body at p.
func (m *Memory) File(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[clean(p)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// InjectError makes every call touching p fail with err. A nil err clears it.
func (m *Memory) InjectError(p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, clean(p))
		return
	}
	m.errors[clean(p)] = err
}

// Calls returns a copy of the spy log.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// OpenHandles returns the number of handles not yet closed.
func (m *Memory) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *Memory) record(method, p string, mode Mode) error {
	m.calls = append(m.calls, Call{Method: method, Path: p, Mode: mode})
	if err, ok := m.errors[p]; ok {
		return err
	}
	return nil
}

func (m *Memory) mkdirLocked(p string) {
	for p = clean(p); ; p = clean(path.Dir(p)) {
		m.dirs[p] = true
		if p == "" || p == "." {
			return
		}
	}
}

// Open returns a handle on p. Writers are write-through: a ModeWrite open
// truncates immediately and every Write lands in the stored body.
func (m *Memory) Open(_ context.Context, p string, mode Mode) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.record("Open", p, mode); err != nil {
		return nil, err
	}
	if m.dirs[p] {
		return nil, fmt.Errorf("storage: open %s: %w", p, ErrIsDirectory)
	}
	if m.maxOpen > 0 && m.open >= m.maxOpen {
		return nil, fmt.Errorf("storage: open %s: too many open files", p)
	}
	switch mode {
	case ModeRead:
		data, ok := m.files[p]
		if !ok {
			return nil, fmt.Errorf("storage: open %s: %w", p, ErrNotExist)
		}
		m.open++
		return &memFile{m: m, r: bytes.NewReader(append([]byte(nil), data...))}, nil
	case ModeWrite, ModeAppend:
		if !m.dirs[clean(path.Dir(p))] {
			m.mkdirLocked(path.Dir(p))
		}
		if _, ok := m.files[p]; !ok || mode == ModeWrite {
			m.files[p] = []byte{}
			m.touchLocked(p)
		}
		m.open++
		return &memFile{m: m, name: p, writable: true}, nil
	}
	return nil, fmt.Errorf("storage: open %s: unsupported mode %d", p, mode)
}

// Stat describes p.
func (m *Memory) Stat(_ context.Context, p string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.record("Stat", p, ModeRead); err != nil {
		return Info{}, err
	}
	if m.dirs[p] {
		return Info{Name: path.Base(p), Path: p, IsDir: true}, nil
	}
	if data, ok := m.files[p]; ok {
		return Info{
			Name:    path.Base(p),
			Path:    p,
			Size:    int64(len(data)),
			Version: strconv.FormatUint(m.versions[p], 10),
		}, nil
	}
	return Info{}, fmt.Errorf("storage: stat %s: %w", p, ErrNotExist)
}

// Exists reports whether p names a file or directory.
func (m *Memory) Exists(_ context.Context, p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	_, ok := m.files[p]
	return ok || m.dirs[p]
}

// Remove deletes a file.
func (m *Memory) Remove(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.record("Remove", p, ModeRead); err != nil {
		return err
	}
	if m.dirs[p] {
		return fmt.Errorf("storage: remove %s: %w", p, ErrIsDirectory)
	}
	if _, ok := m.files[p]; !ok {
		return fmt.Errorf("storage: remove %s: %w", p, ErrNotExist)
	}
	delete(m.files, p)
	delete(m.versions, p)
	return nil
}

// Rename moves a file, replacing the destination.
func (m *Memory) Rename(_ context.Context, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldPath, newPath = clean(oldPath), clean(newPath)
	if err := m.record("Rename", oldPath, ModeRead); err != nil {
		return err
	}
	data, ok := m.files[oldPath]
	if !ok {
		return fmt.Errorf("storage: rename %s: %w", oldPath, ErrNotExist)
	}
	m.mkdirLocked(path.Dir(newPath))
	m.files[newPath] = data
	delete(m.files, oldPath)
	delete(m.versions, oldPath)
	m.touchLocked(newPath)
	return nil
}

// Mkdir creates a directory and its parents.
func (m *Memory) Mkdir(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.record("Mkdir", p, ModeRead); err != nil {
		return err
	}
	if _, ok := m.files[p]; ok {
		return fmt.Errorf("storage: mkdir %s: file exists", p)
	}
	m.mkdirLocked(p)
	return nil
}

// ReadDir lists direct children of p.
func (m *Memory) ReadDir(_ context.Context, p string) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.record("ReadDir", p, ModeRead); err != nil {
		return nil, err
	}
	if !m.dirs[p] {
		return nil, fmt.Errorf("storage: readdir %s: %w", p, ErrNotExist)
	}
	var out []Info
	for d := range m.dirs {
		if d != p && d != "" && clean(path.Dir(d)) == p {
			out = append(out, Info{Name: path.Base(d), Path: d, IsDir: true})
		}
	}
	for f, data := range m.files {
		if clean(path.Dir(f)) == p {
			out = append(out, Info{Name: path.Base(f), Path: f, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RemoveDir deletes an empty directory.
func (m *Memory) RemoveDir(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.record("RemoveDir", p, ModeRead); err != nil {
		return err
	}
	if p == "" {
		return fmt.Errorf("storage: refusing to remove root")
	}
	if !m.dirs[p] {
		return fmt.Errorf("storage: rmdir %s: %w", p, ErrNotExist)
	}
	prefix := p + "/"
	for f := range m.files {
		if strings.HasPrefix(f, prefix) {
			return fmt.Errorf("storage: rmdir %s: directory not empty", p)
		}
	}
	for d := range m.dirs {
		if strings.HasPrefix(d, prefix) {
			return fmt.Errorf("storage: rmdir %s: directory not empty", p)
		}
	}
	delete(m.dirs, p)
	return nil
}

// Usage reports the configured capacity against the bytes stored.
func (m *Memory) Usage(_ context.Context) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var used uint64
	for _, data := range m.files {
		used += uint64(len(data))
	}
	return Usage{
		TotalBytes:    m.capacity,
		UsedBytes:     used,
		BlockSize:     4096,
		PageSize:      256,
		MaxOpenFiles:  uint64(m.maxOpen),
		MaxPathLength: 255,
	}, nil
}

type memFile struct {
	m        *Memory
	r        *bytes.Reader
	name     string
	writable bool
	closed   bool
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("storage: read on closed file")
	}
	if f.r == nil {
		return 0, io.EOF
	}
	return f.r.Read(p)
}

func (f *memFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("storage: write on closed file")
	}
	if !f.writable {
		return 0, fmt.Errorf("storage: file not open for writing")
	}
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	f.m.files[f.name] = append(f.m.files[f.name], p...)
	f.m.touchLocked(f.name)
	return len(p), nil
}

func (f *memFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.m.mu.Lock()
	f.m.open--
	f.m.mu.Unlock()
	return nil
}

var _ Provider = (*Memory)(nil)
