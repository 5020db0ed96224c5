package lines

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

var newline = []byte{'\n'}

// countTerminators reads r to EOF and returns the number of '\n' bytes and
// whether the body ends in a non-empty unterminated fragment.
func countTerminators(r io.Reader) (int, bool, error) {
	buf := make([]byte, 32*1024)
	var n int
	var last byte
	var seen bool
	for {
		m, err := r.Read(buf)
		if m > 0 {
			n += bytes.Count(buf[:m], newline)
			last = buf[m-1]
			seen = true
		}
		if err == io.EOF {
			return n, seen && last != '\n', nil
		}
		if err != nil {
			return n, false, err
		}
	}
}

// eachLine calls fn with the ordinal and content of every line in r, the
// terminator stripped. A trailing fragment without '\n' is a line when it
// is non-empty. fn returns false to stop early.
func eachLine(r io.Reader, fn func(n int, line []byte) bool) error {
	br := bufio.NewReader(r)
	for n := 0; ; n++ {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if !fn(n, bytes.TrimSuffix(line, newline)) {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// splitLines breaks body into lines using the same rule as eachLine.
func splitLines(body []byte) [][]byte {
	if len(body) == 0 {
		return nil
	}
	lines := bytes.Split(body, newline)
	if len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// joinLines terminates every line with exactly one '\n'.
func joinLines(lines [][]byte) []byte {
	size := 0
	for _, l := range lines {
		size += len(l) + 1
	}
	out := make([]byte, 0, size)
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	return out
}

// CountLines returns the number of '\n' terminators in path. An
// unterminated trailing fragment is not counted, so "a\nb" reports 1 while
// LineCount and the range operations see 2 lines.
func (e *Engine) CountLines(ctx context.Context, path string) (int, error) {
	if t, err := e.cachedTable(ctx, path); err != nil {
		return 0, err
	} else if t != nil {
		return t.terminators, nil
	}
	k, _, err := e.scanCount(ctx, path)
	return k, err
}

// LineCount returns the logical number of lines in path: the terminator
// count plus one for a non-empty unterminated trailing fragment.
func (e *Engine) LineCount(ctx context.Context, path string) (int, error) {
	if t, err := e.cachedTable(ctx, path); err != nil {
		return 0, err
	} else if t != nil {
		return t.lines(), nil
	}
	k, frag, err := e.scanCount(ctx, path)
	if frag {
		k++
	}
	return k, err
}

func (e *Engine) scanCount(ctx context.Context, path string) (int, bool, error) {
	f, err := e.open(ctx, path)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()
	k, frag, err := countTerminators(f)
	if err != nil {
		return 0, false, fmt.Errorf("lines: read %s: %w", path, err)
	}
	return k, frag, nil
}
