// Package storage defines the flat file-storage abstraction the line engine
// runs on: sequential handles over named paths, whole-file rewrite, no
// in-place splice.
package storage

import (
	"context"
	"errors"
	"io"
	"os"
)

// Mode selects how Open prepares a handle.
type Mode int

const (
	// ModeRead opens an existing file for sequential reading.
	ModeRead Mode = iota
	// ModeWrite creates or truncates the file.
	ModeWrite
	// ModeAppend creates the file if needed and positions writes at the end.
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	case ModeAppend:
		return "a"
	}
	return "?"
}

// ErrIsDirectory is returned by Open when path names a directory.
var ErrIsDirectory = errors.New("storage: is a directory")

// ErrNotExist is the sentinel every backend wraps for missing paths.
var ErrNotExist = os.ErrNotExist

// File is an open handle. Reads and writes are sequential; there is no seek.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// Info describes a file or directory.
type Info struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
	// Version changes whenever the stored bytes change. Only Stat fills
	// it; empty means the backend cannot vouch for the content.
	Version string `json:"version,omitempty"`
}

// Usage aggregates space counters for diagnostic reporting.
type Usage struct {
	TotalBytes    uint64 `json:"total_bytes"`
	UsedBytes     uint64 `json:"used_bytes"`
	BlockSize     uint64 `json:"block_size"`
	PageSize      uint64 `json:"page_size"`
	MaxOpenFiles  uint64 `json:"max_open_files"`
	MaxPathLength uint64 `json:"max_path_length"`
}

// FreeBytes returns TotalBytes-UsedBytes, or zero when the total is unknown.
func (u Usage) FreeBytes() uint64 {
	if u.UsedBytes >= u.TotalBytes {
		return 0
	}
	return u.TotalBytes - u.UsedBytes
}

// Provider is the storage collaborator. Paths are forward-slash separated
// and relative to the backend root.
type Provider interface {
	// Open returns a handle on path. Missing files opened with ModeRead
	// return an error wrapping ErrNotExist; directories return ErrIsDirectory.
	Open(ctx context.Context, path string, mode Mode) (File, error)
	// Stat describes path, including a content Version when the backend
	// can produce one.
	Stat(ctx context.Context, path string) (Info, error)
	// Exists reports whether path names a file or directory.
	Exists(ctx context.Context, path string) bool
	// Remove deletes a file.
	Remove(ctx context.Context, path string) error
	// Rename moves oldPath to newPath, replacing newPath if present.
	Rename(ctx context.Context, oldPath, newPath string) error
	// Mkdir creates a directory and any missing parents.
	Mkdir(ctx context.Context, path string) error
	// ReadDir lists the direct children of a directory, sorted by name.
	ReadDir(ctx context.Context, path string) ([]Info, error)
	// RemoveDir deletes an empty directory.
	RemoveDir(ctx context.Context, path string) error
	// Usage reports aggregate space counters.
	Usage(ctx context.Context) (Usage, error)
}

// IsNotExist reports whether err means a missing path.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}
