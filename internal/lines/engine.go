// Package lines addresses text files by 0-based line ordinal on top of a
// storage.Provider that only offers sequential reads and whole-file
// rewrites. Every call re-derives ordinals from a fresh scan unless the
// optional offset cache holds a validated table for the path.
package lines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/linestore/internal/apperr"
	"github.com/starford/linestore/internal/storage"
)

// Unbounded as the last ordinal of a range collapses the range to its first
// line.
const Unbounded = -1

// CommitMode selects how mutators put a rewritten body in place.
type CommitMode string

const (
	// CommitSwap writes every rewrite to a sibling temp file, closes it,
	// removes the original and renames the temp into place.
	CommitSwap CommitMode = "swap"
	// CommitLegacy only swaps for ReplaceLine. Insert, delete and overwrite
	// truncate the target and write it directly; DeleteRange removes the
	// file before writing. A fault mid-write leaves a truncated file.
	CommitLegacy CommitMode = "legacy"
)

// ParseCommitMode validates s. The empty string selects CommitSwap.
func ParseCommitMode(s string) (CommitMode, error) {
	switch CommitMode(s) {
	case "", CommitSwap:
		return CommitSwap, nil
	case CommitLegacy:
		return CommitLegacy, nil
	}
	return "", fmt.Errorf("lines: unknown commit mode %q", s)
}

// Engine performs line-addressed reads and edits. It holds no per-file
// state besides the optional offset cache; callers serialize edits of the
// same path.
type Engine struct {
	store storage.Provider
	log   *slog.Logger
	mode  CommitMode
	cache *offsetCache
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithCommitMode selects the commit strategy.
func WithCommitMode(m CommitMode) Option {
	return func(e *Engine) {
		e.mode = m
	}
}

// WithOffsetCache enables the in-memory offset cache with a budget of
// maxBytes of offset tables. It is never persisted.
func WithOffsetCache(maxBytes int64) Option {
	return func(e *Engine) {
		c, err := newOffsetCache(maxBytes)
		if err != nil {
			e.log.Warn("offset cache disabled", slog.String("error", err.Error()))
			return
		}
		e.cache = c
	}
}

// New creates an Engine over store.
func New(store storage.Provider, opts ...Option) *Engine {
	e := &Engine{store: store, log: slog.Default(), mode: CommitSwap}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying provider.
func (e *Engine) Store() storage.Provider {
	return e.store
}

// Mode returns the commit strategy in use.
func (e *Engine) Mode() CommitMode {
	return e.mode
}

// Invalidate drops any cached offsets for path. Mutators call it on every
// exit; the file watcher calls it for edits made outside the engine.
func (e *Engine) Invalidate(path string) {
	if e.cache != nil {
		e.cache.del(path)
	}
}

// CacheStats reports offset cache hits and misses; both are zero when the
// cache is disabled.
func (e *Engine) CacheStats() (hits, misses uint64) {
	if e.cache == nil {
		return 0, 0
	}
	return e.cache.stats()
}

// Close releases the offset cache.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.close()
	}
}

// open returns a read handle, mapping a missing path or a directory to
// apperr.ErrNotFound and any other refusal to apperr.ErrOpenFailure.
func (e *Engine) open(ctx context.Context, path string) (storage.File, error) {
	f, err := e.store.Open(ctx, path, storage.ModeRead)
	if err == nil {
		return f, nil
	}
	if storage.IsNotExist(err) || errors.Is(err, storage.ErrIsDirectory) {
		e.log.Warn("file not found", slog.String("path", path))
		return nil, fmt.Errorf("lines: %s: %w", path, apperr.ErrNotFound)
	}
	e.log.Warn("open failed", slog.String("path", path), slog.String("error", err.Error()))
	return nil, fmt.Errorf("lines: open %s: %w: %w", path, apperr.ErrOpenFailure, err)
}

func checkOrdinal(n int) error {
	if n < 0 {
		return fmt.Errorf("lines: negative line %d: %w", n, apperr.ErrInvalidRange)
	}
	return nil
}

// resolveRange applies the Unbounded collapse and clamps last to total-1.
func resolveRange(first, last, total int) (int, int, error) {
	if first < 0 || first >= total {
		return 0, 0, fmt.Errorf("lines: line %d of %d: %w", first, total, apperr.ErrInvalidRange)
	}
	if last == Unbounded {
		last = first
	}
	if last < first {
		return 0, 0, fmt.Errorf("lines: range [%d, %d]: %w", first, last, apperr.ErrInvalidRange)
	}
	if last > total-1 {
		last = total - 1
	}
	return first, last, nil
}
