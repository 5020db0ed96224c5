// Package fileops holds the whole-file and directory utilities that sit
// beside the line engine: backup and restore, copy, rename without
// clobbering, recursive listing and deletion, and the usage report.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/starford/linestore/internal/apperr"
	"github.com/starford/linestore/internal/storage"
)

// BackupSuffix is appended to a path to name its backup copy.
const BackupSuffix = ".bak"

// Ops runs file utilities against a provider.
type Ops struct {
	store storage.Provider
	log   *slog.Logger
}

// New creates Ops over store.
func New(store storage.Provider, log *slog.Logger) *Ops {
	if log == nil {
		log = slog.Default()
	}
	return &Ops{store: store, log: log}
}

func notFound(p string) error {
	return fmt.Errorf("fileops: %s: %w", p, apperr.ErrNotFound)
}

// Size returns the byte size of the file at p.
func (o *Ops) Size(ctx context.Context, p string) (int64, error) {
	info, err := o.store.Stat(ctx, p)
	if err != nil {
		if storage.IsNotExist(err) {
			return 0, notFound(p)
		}
		return 0, fmt.Errorf("fileops: stat %s: %w", p, err)
	}
	if info.IsDir {
		return 0, notFound(p)
	}
	return info.Size, nil
}

// Copy streams src into dst, replacing dst.
func (o *Ops) Copy(ctx context.Context, src, dst string) error {
	in, err := o.store.Open(ctx, src, storage.ModeRead)
	if err != nil {
		if storage.IsNotExist(err) || errors.Is(err, storage.ErrIsDirectory) {
			return notFound(src)
		}
		return fmt.Errorf("fileops: open %s: %w: %w", src, apperr.ErrOpenFailure, err)
	}
	defer in.Close()
	out, err := o.store.Open(ctx, dst, storage.ModeWrite)
	if err != nil {
		return fmt.Errorf("fileops: open %s: %w: %w", dst, apperr.ErrWriteFailure, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("fileops: copy %s: %w: %w", dst, apperr.ErrWriteFailure, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("fileops: close %s: %w: %w", dst, apperr.ErrWriteFailure, err)
	}
	return nil
}

// Backup copies p to p+".bak", replacing an older backup.
func (o *Ops) Backup(ctx context.Context, p string) error {
	if !o.store.Exists(ctx, p) {
		return notFound(p)
	}
	if err := o.Copy(ctx, p, p+BackupSuffix); err != nil {
		return err
	}
	o.log.Info("backup written", slog.String("path", p))
	return nil
}

// Restore copies p+".bak" back over p.
func (o *Ops) Restore(ctx context.Context, p string) error {
	bak := p + BackupSuffix
	if !o.store.Exists(ctx, bak) {
		return notFound(bak)
	}
	if err := o.Copy(ctx, bak, p); err != nil {
		return err
	}
	o.log.Info("backup restored", slog.String("path", p))
	return nil
}

// Rename moves oldPath to newPath, refusing to replace an existing target.
func (o *Ops) Rename(ctx context.Context, oldPath, newPath string) error {
	if !o.store.Exists(ctx, oldPath) {
		return notFound(oldPath)
	}
	if o.store.Exists(ctx, newPath) {
		return fmt.Errorf("fileops: %s: %w", newPath, apperr.ErrAlreadyExists)
	}
	if err := o.store.Rename(ctx, oldPath, newPath); err != nil {
		return fmt.Errorf("fileops: rename: %w: %w", apperr.ErrWriteFailure, err)
	}
	return nil
}

// Delete removes a single file.
func (o *Ops) Delete(ctx context.Context, p string) error {
	if err := o.store.Remove(ctx, p); err != nil {
		if storage.IsNotExist(err) {
			return notFound(p)
		}
		return fmt.Errorf("fileops: remove %s: %w", p, err)
	}
	return nil
}

// Mkdir creates a directory and its parents.
func (o *Ops) Mkdir(ctx context.Context, p string) error {
	if err := o.store.Mkdir(ctx, p); err != nil {
		return fmt.Errorf("fileops: %w: %w", apperr.ErrWriteFailure, err)
	}
	return nil
}

// IsEmptyDir reports whether p is a directory with no entries. A file or a
// missing path is not an empty directory.
func (o *Ops) IsEmptyDir(ctx context.Context, p string) (bool, error) {
	info, err := o.store.Stat(ctx, p)
	if err != nil {
		if storage.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("fileops: stat %s: %w", p, err)
	}
	if !info.IsDir {
		return false, nil
	}
	entries, err := o.store.ReadDir(ctx, p)
	if err != nil {
		return false, fmt.Errorf("fileops: %w", err)
	}
	return len(entries) == 0, nil
}

// Entry is one line of a recursive listing.
type Entry struct {
	storage.Info
	Depth int `json:"depth"`
}

// Tree lists dir depth-first: each directory is followed by its contents.
func (o *Ops) Tree(ctx context.Context, dir string) ([]Entry, error) {
	var out []Entry
	if err := o.walk(ctx, dir, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Ops) walk(ctx context.Context, dir string, depth int, out *[]Entry) error {
	entries, err := o.store.ReadDir(ctx, dir)
	if err != nil {
		if storage.IsNotExist(err) {
			return notFound(dir)
		}
		return fmt.Errorf("fileops: %w", err)
	}
	for _, e := range entries {
		*out = append(*out, Entry{Info: e, Depth: depth})
		if e.IsDir {
			if err := o.walk(ctx, e.Path, depth+1, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveAll deletes everything under dir and then dir itself. The root
// is emptied but kept. Individual failures are logged and the first one
// is returned after the sweep completes.
func (o *Ops) RemoveAll(ctx context.Context, dir string) error {
	entries, err := o.store.ReadDir(ctx, dir)
	if err != nil {
		if storage.IsNotExist(err) {
			return notFound(dir)
		}
		return fmt.Errorf("fileops: %w", err)
	}
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, e := range entries {
		if e.IsDir {
			keep(o.RemoveAll(ctx, e.Path))
			continue
		}
		if err := o.store.Remove(ctx, e.Path); err != nil {
			o.log.Warn("remove failed", slog.String("path", e.Path), slog.String("error", err.Error()))
			keep(fmt.Errorf("fileops: remove %s: %w", e.Path, err))
		}
	}
	if isRoot(dir) {
		return first
	}
	if err := o.store.RemoveDir(ctx, dir); err != nil {
		o.log.Warn("rmdir failed", slog.String("path", dir), slog.String("error", err.Error()))
		keep(fmt.Errorf("fileops: rmdir %s: %w", dir, err))
	}
	return first
}

func isRoot(p string) bool {
	p = path.Clean("/" + p)
	return p == "/"
}

// Usage returns the provider's space counters.
func (o *Ops) Usage(ctx context.Context) (storage.Usage, error) {
	u, err := o.store.Usage(ctx)
	if err != nil {
		return storage.Usage{}, fmt.Errorf("fileops: %w", err)
	}
	return u, nil
}
