// Package testutil provides shared test helpers for setting up stores,
// journals and services.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/linestore/internal/journal"
	"github.com/starford/linestore/internal/lines"
	"github.com/starford/linestore/internal/lineservice"
	"github.com/starford/linestore/internal/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestJournal creates a journal in a temporary directory that is closed
// when the test ends.
func TestJournal(t *testing.T) *journal.DB {
	t.Helper()
	db, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRoot creates a temporary storage directory with a provider over it.
func TestRoot(t *testing.T) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// TestMemory returns an in-memory provider seeded with files.
func TestMemory(files map[string]string) *storage.Memory {
	mem := storage.NewMemory(storage.WithCapacity(1 << 20))
	for p, b := range files {
		mem.SetFile(p, []byte(b))
	}
	return mem
}

// TestService wires a service over store with the offset cache enabled.
// db may be nil.
func TestService(t *testing.T, store storage.Provider, db *journal.DB, opts ...lineservice.Option) *lineservice.Service {
	t.Helper()
	log := Logger()
	eng := lines.New(store, lines.WithLogger(log), lines.WithOffsetCache(1<<20))
	t.Cleanup(eng.Close)

	all := []lineservice.Option{lineservice.WithLogger(log)}
	if db != nil {
		all = append(all, lineservice.WithJournal(db))
	}
	return lineservice.New(eng, append(all, opts...)...)
}
