package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	require.NoError(t, err)
	return fs
}

func writeFile(t *testing.T, p Provider, path string, mode Mode, data string) {
	t.Helper()
	f, err := p.Open(context.Background(), path, mode)
	require.NoError(t, err)
	_, err = io.WriteString(f, data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func readFile(t *testing.T, p Provider, path string) string {
	t.Helper()
	f, err := p.Open(context.Background(), path, ModeRead)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

func TestFSWriteAndRead(t *testing.T) {
	s := tempRoot(t)
	writeFile(t, s, "/test.txt", ModeWrite, "a\nb\n")
	assert.Equal(t, "a\nb\n", readFile(t, s, "test.txt"))
}

func TestFSWriteTruncates(t *testing.T) {
	s := tempRoot(t)
	writeFile(t, s, "t.txt", ModeWrite, "long content\n")
	writeFile(t, s, "t.txt", ModeWrite, "x")
	assert.Equal(t, "x", readFile(t, s, "t.txt"))
}

func TestFSAppend(t *testing.T) {
	s := tempRoot(t)
	writeFile(t, s, "log.txt", ModeAppend, "one\n")
	writeFile(t, s, "log.txt", ModeAppend, "two\n")
	assert.Equal(t, "one\ntwo\n", readFile(t, s, "log.txt"))
}

func TestFSWriteCreatesSubdirs(t *testing.T) {
	s := tempRoot(t)
	writeFile(t, s, "a/b/c.txt", ModeWrite, "deep")
	assert.Equal(t, "deep", readFile(t, s, "a/b/c.txt"))
}

func TestFSOpenMissing(t *testing.T) {
	s := tempRoot(t)
	_, err := s.Open(context.Background(), "nope.txt", ModeRead)
	require.Error(t, err)
	assert.True(t, IsNotExist(err))
}

func TestFSOpenDirectory(t *testing.T) {
	s := tempRoot(t)
	require.NoError(t, s.Mkdir(context.Background(), "dir"))
	_, err := s.Open(context.Background(), "dir", ModeRead)
	assert.ErrorIs(t, err, ErrIsDirectory)
	_, err = s.Open(context.Background(), "dir", ModeWrite)
	assert.ErrorIs(t, err, ErrIsDirectory)
}

func TestFSRemove(t *testing.T) {
	ctx := context.Background()
	s := tempRoot(t)
	writeFile(t, s, "del.txt", ModeWrite, "bye")
	require.NoError(t, s.Remove(ctx, "del.txt"))
	assert.False(t, s.Exists(ctx, "del.txt"))
	assert.True(t, IsNotExist(s.Remove(ctx, "del.txt")))
}

func TestFSRename(t *testing.T) {
	ctx := context.Background()
	s := tempRoot(t)
	writeFile(t, s, "old.txt", ModeWrite, "data")
	require.NoError(t, s.Rename(ctx, "old.txt", "sub/new.txt"))
	assert.Equal(t, "data", readFile(t, s, "sub/new.txt"))
	assert.False(t, s.Exists(ctx, "old.txt"))
}

func TestFSReadDirSorted(t *testing.T) {
	ctx := context.Background()
	s := tempRoot(t)
	writeFile(t, s, "b.txt", ModeWrite, "b")
	writeFile(t, s, "a.txt", ModeWrite, "aa")
	require.NoError(t, s.Mkdir(ctx, "sub"))

	entries, err := s.ReadDir(ctx, "/")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, int64(2), entries[0].Size)
	assert.Equal(t, "b.txt", entries[1].Name)
	assert.True(t, entries[2].IsDir)
	assert.Equal(t, "sub", entries[2].Path)
}

func TestFSRemoveDir(t *testing.T) {
	ctx := context.Background()
	s := tempRoot(t)
	require.NoError(t, s.Mkdir(ctx, "empty"))
	require.NoError(t, s.RemoveDir(ctx, "empty"))
	assert.False(t, s.Exists(ctx, "empty"))
	assert.Error(t, s.RemoveDir(ctx, "/"))
}

func TestFSPathTraversal(t *testing.T) {
	s := tempRoot(t)
	_, err := s.Open(context.Background(), "../../etc/passwd", ModeRead)
	assert.Error(t, err)
	_, err = s.Open(context.Background(), "a/../../escape.txt", ModeWrite)
	assert.Error(t, err)
}

func TestFSStat(t *testing.T) {
	s := tempRoot(t)
	writeFile(t, s, "s.txt", ModeWrite, "12345")
	info, err := s.Stat(context.Background(), "s.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.IsDir)
	assert.Equal(t, "s.txt", info.Path)
}

func TestFSUsage(t *testing.T) {
	s := tempRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "u.txt"), []byte("usage"), 0o644))
	u, err := s.Usage(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, u.PageSize)
}

func TestFSStatVersion(t *testing.T) {
	ctx := context.Background()
	s := tempRoot(t)
	abs := filepath.Join(s.Root(), "v.txt")
	writeFile(t, s, "v.txt", ModeWrite, "ab\ncd\n")

	info, err := s.Stat(ctx, "v.txt")
	require.NoError(t, err)
	assert.Empty(t, info.Version, "fresh mtime is inside the racy window")

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(abs, old, old))
	first, err := s.Stat(ctx, "v.txt")
	require.NoError(t, err)
	require.NotEmpty(t, first.Version)
	again, err := s.Stat(ctx, "v.txt")
	require.NoError(t, err)
	assert.Equal(t, first.Version, again.Version)

	require.NoError(t, os.WriteFile(abs, []byte("x\nyzw\n"), 0o644))
	older := old.Add(-time.Minute)
	require.NoError(t, os.Chtimes(abs, older, older))
	edited, err := s.Stat(ctx, "v.txt")
	require.NoError(t, err)
	assert.Equal(t, first.Size, edited.Size)
	assert.NotEqual(t, first.Version, edited.Version)

	dir, err := s.Stat(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, dir.Version)
}
