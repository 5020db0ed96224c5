package lines

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/linestore/internal/apperr"
	"github.com/starford/linestore/internal/storage"
)

// commitKind is how one mutation puts its body in place.
type commitKind int

const (
	commitSwap commitKind = iota
	commitInPlace
	commitRemoveThenWrite
)

const (
	tempPrefix = ".~lines."
	tempSuffix = ".tmp"
)

// tempPath returns the sibling file a swap commit writes first.
func tempPath(p string) string {
	dir, base := path.Split(p)
	return dir + tempPrefix + base + tempSuffix
}

// IsTempPath reports whether p is a swap-commit temp file.
func IsTempPath(p string) bool {
	base := path.Base(p)
	return len(base) > len(tempPrefix)+len(tempSuffix) &&
		strings.HasPrefix(base, tempPrefix) && strings.HasSuffix(base, tempSuffix)
}

// kindFor maps an operation to its commit under the configured mode.
// ReplaceLine is the only mutator that swaps in both modes.
func (e *Engine) kindFor(op string) commitKind {
	if e.mode != CommitLegacy || op == "replace" {
		return commitSwap
	}
	if op == "delete_range" {
		return commitRemoveThenWrite
	}
	return commitInPlace
}

// load reads the whole body of path and splits it into lines.
func (e *Engine) load(ctx context.Context, path string) ([][]byte, error) {
	f, err := e.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("lines: read %s: %w", path, err)
	}
	return splitLines(body), nil
}

// ReplaceLine substitutes line n of path with content. Every line of the
// result ends in exactly one '\n'. When line n does not exist the existing
// lines are rewritten unchanged and nothing is appended.
func (e *Engine) ReplaceLine(ctx context.Context, path string, n int, content string) error {
	if err := checkOrdinal(n); err != nil {
		return err
	}
	defer e.Invalidate(path)
	lines, err := e.load(ctx, path)
	if err != nil {
		return err
	}
	if n < len(lines) {
		lines[n] = []byte(content)
	} else {
		e.log.Warn("replace target line missing", slog.String("path", path), slog.Int("line", n), slog.Int("lines", len(lines)))
	}
	return e.commit(ctx, path, joinLines(lines), e.kindFor("replace"))
}

// InsertLine places content before line pos, or after the last line when
// pos is at or beyond the line count.
func (e *Engine) InsertLine(ctx context.Context, path string, pos int, content string) error {
	if err := checkOrdinal(pos); err != nil {
		return err
	}
	defer e.Invalidate(path)
	lines, err := e.load(ctx, path)
	if err != nil {
		return err
	}
	if pos > len(lines) {
		pos = len(lines)
	}
	out := make([][]byte, 0, len(lines)+1)
	out = append(out, lines[:pos]...)
	out = append(out, []byte(content))
	out = append(out, lines[pos:]...)
	return e.commit(ctx, path, joinLines(out), e.kindFor("insert"))
}

// DeleteLine removes line n. A missing line leaves the content unchanged
// apart from terminator normalization.
func (e *Engine) DeleteLine(ctx context.Context, path string, n int) error {
	if err := checkOrdinal(n); err != nil {
		return err
	}
	defer e.Invalidate(path)
	lines, err := e.load(ctx, path)
	if err != nil {
		return err
	}
	if n < len(lines) {
		lines = append(lines[:n], lines[n+1:]...)
	} else {
		e.log.Warn("delete target line missing", slog.String("path", path), slog.Int("line", n), slog.Int("lines", len(lines)))
	}
	return e.commit(ctx, path, joinLines(lines), e.kindFor("delete"))
}

// DeleteRange removes lines first..last inclusive. Unbounded as last
// removes one line and a last past the end is clamped. A first outside the
// file yields apperr.ErrInvalidRange and leaves the file untouched.
func (e *Engine) DeleteRange(ctx context.Context, path string, first, last int) error {
	defer e.Invalidate(path)
	lines, err := e.load(ctx, path)
	if err != nil {
		return err
	}
	lo, hi, err := resolveRange(first, last, len(lines))
	if err != nil {
		e.log.Warn("delete range out of bounds", slog.String("path", path), slog.Int("first", first), slog.Int("last", last), slog.Int("lines", len(lines)))
		return err
	}
	lines = append(lines[:lo], lines[hi+1:]...)
	return e.commit(ctx, path, joinLines(lines), e.kindFor("delete_range"))
}

// Overwrite replaces the body of path with content verbatim, creating the
// file if needed.
func (e *Engine) Overwrite(ctx context.Context, path, content string) error {
	defer e.Invalidate(path)
	return e.commit(ctx, path, []byte(content), e.kindFor("overwrite"))
}

// Append adds content verbatim to the end of path, creating it if needed.
func (e *Engine) Append(ctx context.Context, path, content string) error {
	defer e.Invalidate(path)
	f, err := e.store.Open(ctx, path, storage.ModeAppend)
	if err != nil {
		return e.writeErr(path, "open for append", err)
	}
	if _, err := io.WriteString(f, content); err != nil {
		_ = f.Close()
		return e.writeErr(path, "append", err)
	}
	if err := f.Close(); err != nil {
		return e.writeErr(path, "close", err)
	}
	return nil
}

// Clear truncates path to zero bytes, creating it if needed.
func (e *Engine) Clear(ctx context.Context, path string) error {
	defer e.Invalidate(path)
	return e.writeFile(ctx, path, nil)
}

// EnsureExists creates an empty file at path unless something already
// exists there. It reports whether a file was created.
func (e *Engine) EnsureExists(ctx context.Context, path string) (bool, error) {
	if e.store.Exists(ctx, path) {
		return false, nil
	}
	defer e.Invalidate(path)
	if err := e.writeFile(ctx, path, nil); err != nil {
		return false, err
	}
	return true, nil
}

// commit puts body at path using the given strategy.
func (e *Engine) commit(ctx context.Context, path string, body []byte, kind commitKind) error {
	switch kind {
	case commitInPlace:
		return e.writeFile(ctx, path, body)
	case commitRemoveThenWrite:
		if err := e.store.Remove(ctx, path); err != nil && !storage.IsNotExist(err) {
			return e.writeErr(path, "remove", err)
		}
		return e.writeFile(ctx, path, body)
	}

	tmp := tempPath(path)
	if err := e.writeFile(ctx, tmp, body); err != nil {
		if rmErr := e.store.Remove(ctx, tmp); rmErr != nil && !storage.IsNotExist(rmErr) {
			e.log.Warn("temp file left behind", slog.String("path", tmp), slog.String("error", rmErr.Error()))
		}
		return err
	}
	if err := e.store.Remove(ctx, path); err != nil && !storage.IsNotExist(err) {
		_ = e.store.Remove(ctx, tmp)
		return e.writeErr(path, "remove original", err)
	}
	if err := e.store.Rename(ctx, tmp, path); err != nil {
		// The original is gone; the new body survives under tmp.
		return e.writeErr(path, "rename "+tmp, err)
	}
	return nil
}

// writeFile truncates path and writes body to it.
func (e *Engine) writeFile(ctx context.Context, path string, body []byte) error {
	f, err := e.store.Open(ctx, path, storage.ModeWrite)
	if err != nil {
		return e.writeErr(path, "open for write", err)
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return e.writeErr(path, "write", err)
	}
	if err := f.Close(); err != nil {
		return e.writeErr(path, "close", err)
	}
	return nil
}

func (e *Engine) writeErr(path, step string, err error) error {
	e.log.Warn("write failed", slog.String("path", path), slog.String("step", step), slog.String("error", err.Error()))
	return fmt.Errorf("lines: %s %s: %w: %w", step, path, apperr.ErrWriteFailure, err)
}
