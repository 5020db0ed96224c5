package lines

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/starford/linestore/internal/checksum"
)

// offsetTable records where each logical line of a file starts. It lets
// readers skip straight to a line instead of splitting every line before
// it, and answers counts without touching the file.
type offsetTable struct {
	version     string
	checksum    string
	size        int64
	terminators int
	starts      []int64
}

func (t *offsetTable) lines() int {
	return len(t.starts)
}

// span returns the byte offset and length of line n, terminator excluded.
func (t *offsetTable) span(n int) (int64, int64) {
	start := t.starts[n]
	end := t.size
	if n+1 < len(t.starts) {
		end = t.starts[n+1]
	}
	if n < t.terminators {
		end--
	}
	return start, end - start
}

// cost approximates the table's footprint for the cache budget.
func (t *offsetTable) cost() int64 {
	return int64(len(t.starts))*8 + int64(len(t.checksum)) + 64
}

func buildTable(r io.Reader) (*offsetTable, error) {
	h := checksum.New()
	br := bufio.NewReader(io.TeeReader(r, h))
	t := &offsetTable{}
	var off int64
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			t.starts = append(t.starts, off)
			off += int64(len(line))
			if line[len(line)-1] == '\n' {
				t.terminators++
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	t.size = off
	t.checksum = checksum.Encode(h)
	return t, nil
}

// offsetCache maps paths to offset tables. Entries are validated against
// the provider's content version on every lookup and dropped on every
// mutation.
type offsetCache struct {
	c *ristretto.Cache[string, *offsetTable]
}

func newOffsetCache(maxBytes int64) (*offsetCache, error) {
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *offsetTable]{
		NumCounters:        1e5,
		MaxCost:            maxBytes,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("lines: offset cache: %w", err)
	}
	return &offsetCache{c: c}, nil
}

func (c *offsetCache) get(path string) (*offsetTable, bool) {
	return c.c.Get(path)
}

func (c *offsetCache) put(path string, t *offsetTable) {
	c.c.Set(path, t, t.cost())
	c.c.Wait()
}

func (c *offsetCache) del(path string) {
	c.c.Del(path)
}

func (c *offsetCache) stats() (uint64, uint64) {
	return c.c.Metrics.Hits(), c.c.Metrics.Misses()
}

func (c *offsetCache) close() {
	c.c.Close()
}

// cachedTable returns a validated offset table for path, building and
// storing one on a miss. It returns nil without error when the cache is
// disabled or the provider reports no content version for path.
func (e *Engine) cachedTable(ctx context.Context, path string) (*offsetTable, error) {
	if e.cache == nil {
		return nil, nil
	}
	info, err := e.store.Stat(ctx, path)
	if err != nil || info.IsDir || info.Version == "" {
		e.cache.del(path)
		return nil, nil
	}
	if t, ok := e.cache.get(path); ok {
		if t.version == info.Version && t.size == info.Size {
			return t, nil
		}
		e.cache.del(path)
	}
	f, err := e.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := buildTable(f)
	if err != nil {
		return nil, fmt.Errorf("lines: read %s: %w", path, err)
	}
	if t.size == info.Size {
		t.version = info.Version
		e.cache.put(path, t)
	}
	return t, nil
}

// Checksum returns the hex SHA-256 of the body at path.
func (e *Engine) Checksum(ctx context.Context, path string) (string, error) {
	if t, err := e.cachedTable(ctx, path); err != nil {
		return "", err
	} else if t != nil {
		return t.checksum, nil
	}
	f, err := e.open(ctx, path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := checksum.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("lines: read %s: %w", path, err)
	}
	return checksum.Encode(h), nil
}

// readSpan reads length bytes starting at off from path. The provider has
// no seek, so the prefix is discarded.
func (e *Engine) readSpan(ctx context.Context, path string, off, length int64) ([]byte, error) {
	f, err := e.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := io.CopyN(io.Discard, f, off); err != nil {
		return nil, fmt.Errorf("lines: read %s: %w", path, err)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("lines: read %s: %w", path, err)
	}
	return buf, nil
}
