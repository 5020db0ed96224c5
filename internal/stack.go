package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/starford/linestore/internal/journal"
	"github.com/starford/linestore/internal/lines"
	"github.com/starford/linestore/internal/lineservice"
	"github.com/starford/linestore/internal/storage"
)

// Stack is the storage, engine, journal and service shared by every
// transport.
type Stack struct {
	Service *lineservice.Service
	Engine  *lines.Engine
	Journal *journal.DB

	// Root is the local storage directory, empty for other backends.
	Root string

	lock *flock.Flock
}

// NewLogger builds the JSON logger used by every mode.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// LockPath returns the advisory lock file guarding a local root. It sits
// beside the root so it never shows up in listings.
func LockPath(root string) string {
	return filepath.Clean(root) + ".lock"
}

// Open assembles the stack described by cfg. pub may be nil.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger, pub lineservice.Publisher) (*Stack, error) {
	st := &Stack{}
	store, err := st.openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	mode, err := lines.ParseCommitMode(cfg.Engine.Commit)
	if err != nil {
		st.Close()
		return nil, err
	}
	engineOpts := []lines.Option{lines.WithLogger(logger), lines.WithCommitMode(mode)}
	if cfg.Engine.CacheBytes > 0 {
		engineOpts = append(engineOpts, lines.WithOffsetCache(cfg.Engine.CacheBytes))
	}
	st.Engine = lines.New(store, engineOpts...)

	svcOpts := []lineservice.Option{lineservice.WithLogger(logger)}
	if pub != nil {
		svcOpts = append(svcOpts, lineservice.WithPublisher(pub))
	}
	if cfg.Journal.Path != "" {
		db, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init journal: %w", err)
		}
		st.Journal = db
		svcOpts = append(svcOpts, lineservice.WithJournal(db))

		if err := journal.Reconcile(ctx, db, store, lines.IsTempPath, logger); err != nil {
			logger.Warn("journal reconcile failed", slog.String("error", err.Error()))
		}
	}
	st.Service = lineservice.New(st.Engine, svcOpts...)

	logger.Info("Storage opened",
		slog.String("backend", cfg.Storage.Backend),
		slog.String("commit", string(mode)),
		slog.Int64("cache_bytes", cfg.Engine.CacheBytes),
		slog.Bool("journal", st.Journal != nil))
	return st, nil
}

func (st *Stack) openStore(ctx context.Context, cfg StorageConfig) (storage.Provider, error) {
	switch cfg.Backend {
	case BackendMemory:
		return storage.NewMemory(storage.WithCapacity(cfg.Capacity)), nil

	case BackendS3:
		store, err := storage.NewS3FromConfig(ctx, storage.S3Options{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		return store, nil
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	lock := flock.New(LockPath(cfg.Path))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock storage dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("storage dir %s is in use by another linestore process", cfg.Path)
	}
	st.lock = lock

	store, err := storage.NewFS(cfg.Path)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	st.Root = store.Root()
	return store, nil
}

// Close releases the journal, the offset cache and the directory lock.
func (st *Stack) Close() error {
	var errs []error
	if st.Engine != nil {
		st.Engine.Close()
	}
	if st.Journal != nil {
		errs = append(errs, st.Journal.Close())
	}
	if st.lock != nil {
		errs = append(errs, st.lock.Unlock())
	}
	return errors.Join(errs...)
}
