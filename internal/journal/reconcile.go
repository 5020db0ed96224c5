package journal

import (
	"context"
	"io"
	"log/slog"

	"github.com/starford/linestore/internal/checksum"
	"github.com/starford/linestore/internal/storage"
)

// Ops recorded by Reconcile.
const (
	OpExternal = "external"
	OpDelete   = "delete"
)

// Reconcile walks the store and brings the journal up to date with edits
// made while the service was not running:
//   - files whose checksum differs from their latest entry get an
//     "external" entry
//   - journaled files missing from the store get a "delete" entry
//
// skip excludes paths such as temp files.
func Reconcile(ctx context.Context, db *DB, store storage.Provider, skip func(string) bool, logger *slog.Logger) error {
	latest, err := db.LatestAll(ctx)
	if err != nil {
		return err
	}

	disk := make(map[string]struct{})
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := store.ReadDir(ctx, dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if skip != nil && skip(e.Path) {
				continue
			}
			if e.IsDir {
				if err := walk(e.Path); err != nil {
					return err
				}
				continue
			}
			disk[e.Path] = struct{}{}
			sum, err := fileChecksum(ctx, store, e.Path)
			if err != nil {
				logger.Warn("reconcile: read failed", slog.String("path", e.Path), slog.String("error", err.Error()))
				continue
			}
			if prev, ok := latest[e.Path]; ok && prev.Checksum == sum {
				continue
			}
			if _, err := db.Record(ctx, Entry{Path: e.Path, Op: OpExternal, First: -1, Last: -1, Checksum: sum, Source: "reconcile"}); err != nil {
				return err
			}
			logger.Debug("reconcile: recorded", slog.String("path", e.Path))
		}
		return nil
	}
	if err := walk(""); err != nil {
		return err
	}

	for p, prev := range latest {
		if _, ok := disk[p]; ok || prev.Op == OpDelete {
			continue
		}
		if _, err := db.Record(ctx, Entry{Path: p, Op: OpDelete, First: -1, Last: -1, Source: "reconcile"}); err != nil {
			return err
		}
		logger.Debug("reconcile: removed", slog.String("path", p))
	}
	return nil
}

func fileChecksum(ctx context.Context, store storage.Provider, p string) (string, error) {
	f, err := store.Open(ctx, p, storage.ModeRead)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := checksum.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return checksum.Encode(h), nil
}
