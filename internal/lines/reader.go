package lines

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/starford/linestore/internal/apperr"
	"github.com/starford/linestore/internal/checksum"
)

// ReadLine returns line n of path without its terminator. A line that does
// not exist yields apperr.ErrInvalidRange, so an empty result always means
// an empty line.
func (e *Engine) ReadLine(ctx context.Context, path string, n int) (string, error) {
	if err := checkOrdinal(n); err != nil {
		return "", err
	}
	t, err := e.cachedTable(ctx, path)
	if err != nil {
		return "", err
	}
	if t != nil {
		if n >= t.lines() {
			return "", fmt.Errorf("lines: line %d of %d: %w", n, t.lines(), apperr.ErrInvalidRange)
		}
		off, length := t.span(n)
		b, err := e.readSpan(ctx, path, off, length)
		return string(b), err
	}

	f, err := e.open(ctx, path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var (
		found bool
		out   string
	)
	err = eachLine(f, func(i int, line []byte) bool {
		if i == n {
			out, found = string(line), true
			return false
		}
		return true
	})
	if err != nil {
		return "", fmt.Errorf("lines: read %s: %w", path, err)
	}
	if !found {
		return "", fmt.Errorf("lines: line %d: %w", n, apperr.ErrInvalidRange)
	}
	return out, nil
}

// ReadRange returns lines first..last inclusive, each followed by '\n'.
// Unbounded as last reads a single line; a last past the end is clamped. A
// first at or beyond the logical line count yields apperr.ErrInvalidRange.
func (e *Engine) ReadRange(ctx context.Context, path string, first, last int) (string, error) {
	t, err := e.cachedTable(ctx, path)
	if err != nil {
		return "", err
	}
	if t != nil {
		lo, hi, err := resolveRange(first, last, t.lines())
		if err != nil {
			return "", err
		}
		off, _ := t.span(lo)
		end, length := t.span(hi)
		b, err := e.readSpan(ctx, path, off, end+length-off)
		if err != nil {
			return "", err
		}
		return string(b) + "\n", nil
	}

	total, err := e.LineCount(ctx, path)
	if err != nil {
		return "", err
	}
	lo, hi, err := resolveRange(first, last, total)
	if err != nil {
		e.log.Warn("read range out of bounds", slog.String("path", path), slog.Int("first", first), slog.Int("lines", total))
		return "", err
	}
	f, err := e.open(ctx, path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var buf bytes.Buffer
	err = eachLine(f, func(i int, line []byte) bool {
		if i > hi {
			return false
		}
		if i >= lo {
			buf.Write(line)
			buf.WriteByte('\n')
		}
		return true
	})
	if err != nil {
		return "", fmt.Errorf("lines: read %s: %w", path, err)
	}
	return buf.String(), nil
}

// ReadAll returns every line of path, each followed by '\n'. An empty file
// yields "".
func (e *Engine) ReadAll(ctx context.Context, path string) (string, error) {
	f, err := e.open(ctx, path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("lines: read %s: %w", path, err)
	}
	return string(joinLines(splitLines(body))), nil
}

// Snapshot is one read of a stored body.
type Snapshot struct {
	Body     []byte
	Checksum string
	Lines    int
}

// Snapshot returns the raw body of path with the checksum and logical line
// count of exactly those bytes.
func (e *Engine) Snapshot(ctx context.Context, path string) (*Snapshot, error) {
	f, err := e.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("lines: read %s: %w", path, err)
	}
	return &Snapshot{Body: body, Checksum: checksum.Sum(body), Lines: len(splitLines(body))}, nil
}

// Search returns the ordinal of the first line byte-equal to target, or -1
// with apperr.ErrNoMatch.
func (e *Engine) Search(ctx context.Context, path, target string) (int, error) {
	f, err := e.open(ctx, path)
	if err != nil {
		return -1, err
	}
	defer f.Close()
	want := []byte(target)
	idx := -1
	err = eachLine(f, func(i int, line []byte) bool {
		if bytes.Equal(line, want) {
			idx = i
			return false
		}
		return true
	})
	if err != nil {
		return -1, fmt.Errorf("lines: read %s: %w", path, err)
	}
	if idx < 0 {
		return -1, fmt.Errorf("lines: %q in %s: %w", target, path, apperr.ErrNoMatch)
	}
	return idx, nil
}
