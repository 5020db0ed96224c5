package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the storage root
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute storage root.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves a storage path against the root and rejects any result
// that escapes it. A leading slash means "relative to the root", so
// "/test.txt" and "test.txt" name the same file.
func (f *FS) safePath(rel string) (string, error) {
	rel = strings.TrimLeft(filepath.ToSlash(rel), "/")
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes root: %s", rel)
	}
	return abs, nil
}

// Open returns a sequential handle on path.
func (f *FS) Open(_ context.Context, path string, mode Mode) (File, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	switch mode {
	case ModeRead:
		fh, err := os.Open(abs)
		if err != nil {
			return nil, fmt.Errorf("storage: open %s: %w", path, err)
		}
		info, err := fh.Stat()
		if err != nil {
			_ = fh.Close()
			return nil, fmt.Errorf("storage: stat %s: %w", path, err)
		}
		if info.IsDir() {
			_ = fh.Close()
			return nil, fmt.Errorf("storage: open %s: %w", path, ErrIsDirectory)
		}
		return fh, nil
	case ModeWrite, ModeAppend:
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			return nil, fmt.Errorf("storage: open %s: %w", path, ErrIsDirectory)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("storage: mkdir: %w", err)
		}
		flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if mode == ModeAppend {
			flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		fh, err := os.OpenFile(abs, flag, 0o644)
		if err != nil {
			return nil, fmt.Errorf("storage: open %s: %w", path, err)
		}
		return fh, nil
	}
	return nil, fmt.Errorf("storage: open %s: unsupported mode %d", path, mode)
}

// Stat describes path.
func (f *FS) Stat(_ context.Context, path string) (Info, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return Info{}, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	info := f.info(abs, fi)
	if !fi.IsDir() {
		info.Version = fsVersion(fi, time.Now())
	}
	return info, nil
}

// racyWindow is how close to now a modification time may be before it
// stops identifying the content. File timestamps tick at clock-tick
// granularity, so a same-size write inside the window can keep both size
// and mtime.
const racyWindow = 2 * time.Second

// fsVersion derives a content version from size and modification time. It
// returns "" for files modified within racyWindow of now.
func fsVersion(fi os.FileInfo, now time.Time) string {
	mt := fi.ModTime()
	if now.Sub(mt) < racyWindow {
		return ""
	}
	return strconv.FormatInt(mt.UnixNano(), 36) + "-" + strconv.FormatInt(fi.Size(), 36)
}

// Exists reports whether path names a file or directory.
func (f *FS) Exists(_ context.Context, path string) bool {
	abs, err := f.safePath(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Remove deletes a file.
func (f *FS) Remove(_ context.Context, path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return fmt.Errorf("storage: remove %s: %w", path, ErrIsDirectory)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: remove %s: %w", path, err)
	}
	return nil
}

// Rename moves a file within the root.
func (f *FS) Rename(_ context.Context, oldPath, newPath string) error {
	absOld, err := f.safePath(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for rename: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Mkdir creates a directory and its parents.
func (f *FS) Mkdir(_ context.Context, path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", path, err)
	}
	return nil
}

// ReadDir lists the direct children of path.
func (f *FS) ReadDir(_ context.Context, path string) ([]Info, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: readdir %s: %w", path, err)
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("storage: readdir %s: %w", path, err)
		}
		out = append(out, f.info(filepath.Join(abs, e.Name()), info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RemoveDir deletes an empty directory. The root itself cannot be removed.
func (f *FS) RemoveDir(_ context.Context, path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if abs == f.root {
		return fmt.Errorf("storage: refusing to remove root")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("storage: rmdir %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage: rmdir %s: not a directory", path)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: rmdir %s: %w", path, err)
	}
	return nil
}

// Usage reports space counters for the file system holding the root.
func (f *FS) Usage(_ context.Context) (Usage, error) {
	return usage(f.root)
}

func (f *FS) info(abs string, fi os.FileInfo) Info {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || rel == "." {
		rel = ""
	}
	return Info{
		Name:  fi.Name(),
		Path:  filepath.ToSlash(rel),
		Size:  fi.Size(),
		IsDir: fi.IsDir(),
	}
}

var _ Provider = (*FS)(nil)
