package lines

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/linestore/internal/checksum"
	"github.com/starford/linestore/internal/storage"
)

func TestBuildTable(t *testing.T) {
	tests := []struct {
		body        string
		lines       int
		terminators int
	}{
		{"", 0, 0},
		{"only", 1, 0},
		{"a\nb\nc\n", 3, 3},
		{"a\n\nc", 3, 2},
		{"\n", 1, 1},
	}
	for _, tt := range tests {
		tbl, err := buildTable(strings.NewReader(tt.body))
		require.NoError(t, err)
		assert.Equal(t, tt.lines, tbl.lines(), "body %q", tt.body)
		assert.Equal(t, tt.terminators, tbl.terminators, "body %q", tt.body)
		assert.Equal(t, int64(len(tt.body)), tbl.size)
		assert.Equal(t, checksum.Sum([]byte(tt.body)), tbl.checksum)
	}
}

func TestTableSpan(t *testing.T) {
	tbl, err := buildTable(strings.NewReader("ab\n\ncde"))
	require.NoError(t, err)
	type span struct{ off, n int64 }
	var got []span
	for i := 0; i < tbl.lines(); i++ {
		off, n := tbl.span(i)
		got = append(got, span{off, n})
	}
	assert.Equal(t, []span{{0, 2}, {3, 0}, {4, 3}}, got)
}

func TestCacheHitAndInvalidate(t *testing.T) {
	ctx := context.Background()
	e, mem := newEngine(t, map[string]string{"f": abc}, WithOffsetCache(1<<20))

	_, err := e.LineCount(ctx, "f")
	require.NoError(t, err)
	got, err := e.ReadLine(ctx, "f", 1)
	require.NoError(t, err)
	assert.Equal(t, "b", got)
	hits, _ := e.CacheStats()
	assert.NotZero(t, hits)

	mem.SetFile("f", []byte("longer line\n"))
	n, err := e.LineCount(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, e.InsertLine(ctx, "f", 0, "top"))
	got, err = e.ReadRange(ctx, "f", 0, Unbounded)
	require.NoError(t, err)
	assert.Equal(t, "top\n", got)
	n, err = e.CountLines(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e.Invalidate("f")
	sum, err := e.Checksum(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, checksum.Sum([]byte("top\nlonger line\n")), sum)
}

func TestCacheSameSizeOutsideEdit(t *testing.T) {
	ctx := context.Background()
	e, mem := newEngine(t, map[string]string{"f": "ab\ncd\n"}, WithOffsetCache(1<<20))

	got, err := e.ReadLine(ctx, "f", 0)
	require.NoError(t, err)
	require.Equal(t, "ab", got)
	before, err := e.Checksum(ctx, "f")
	require.NoError(t, err)

	mem.SetFile("f", []byte("x\nyzw\n"))

	got, err = e.ReadLine(ctx, "f", 0)
	require.NoError(t, err)
	assert.Equal(t, "x", got)
	got, err = e.ReadRange(ctx, "f", 1, Unbounded)
	require.NoError(t, err)
	assert.Equal(t, "yzw\n", got)
	after, err := e.Checksum(ctx, "f")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.Equal(t, checksum.Sum([]byte("x\nyzw\n")), after)

	mem.SetFile("f", []byte("x\ny\nzw"))
	n, err := e.CountLines(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = e.LineCount(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// unversioned hides content versions, like a backend that cannot report one.
type unversioned struct {
	*storage.Memory
}

func (u unversioned) Stat(ctx context.Context, p string) (storage.Info, error) {
	info, err := u.Memory.Stat(ctx, p)
	info.Version = ""
	return info, err
}

func TestCacheBypassedWithoutVersion(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	mem.SetFile("f", []byte(abc))
	e := New(unversioned{mem}, WithLogger(quietLogger()), WithOffsetCache(1<<20))
	t.Cleanup(e.Close)

	for i := 0; i < 3; i++ {
		got, err := e.ReadLine(ctx, "f", 2)
		require.NoError(t, err)
		assert.Equal(t, "c", got)
	}
	mem.SetFile("f", []byte("x\ny\nz\n"))
	got, err := e.ReadLine(ctx, "f", 2)
	require.NoError(t, err)
	assert.Equal(t, "z", got)
	hits, misses := e.CacheStats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestChecksumWithoutCache(t *testing.T) {
	e, _ := newEngine(t, map[string]string{"f": abc})
	sum, err := e.Checksum(context.Background(), "f")
	require.NoError(t, err)
	assert.Equal(t, checksum.Sum([]byte(abc)), sum)
	hits, misses := e.CacheStats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}
