package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/linestore/internal/apperr"
	"github.com/starford/linestore/internal/checksum"
	"github.com/starford/linestore/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM mutations`).Scan(&count); err != nil {
		t.Fatalf("mutations table missing: %v", err)
	}
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	for i, op := range []string{"replace", "insert", "delete"} {
		if _, err := db.Record(ctx, Entry{Path: "a.txt", Op: op, First: i, Last: i, Checksum: op}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if _, err := db.Record(ctx, Entry{Path: "b.txt", Op: "append", First: -1, Last: -1}); err != nil {
		t.Fatal(err)
	}

	all, total, err := db.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 4 || len(all) != 4 {
		t.Fatalf("total = %d, len = %d", total, len(all))
	}
	if all[0].Path != "b.txt" {
		t.Errorf("newest first: got %q", all[0].Path)
	}
	if all[0].At.IsZero() {
		t.Error("At not stamped")
	}

	page, total, err := db.List(ctx, Filter{Path: "a.txt", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(page) != 2 {
		t.Fatalf("total = %d, len = %d", total, len(page))
	}
	if page[0].Op != "insert" || page[0].First != 1 || page[1].Op != "replace" {
		t.Errorf("page = %+v", page)
	}
}

func TestLatest(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	if _, err := db.Latest(ctx, "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	_, _ = db.Record(ctx, Entry{Path: "x", Op: "overwrite", Checksum: "1"})
	_, _ = db.Record(ctx, Entry{Path: "x", Op: "append", Checksum: "2"})
	e, err := db.Latest(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if e.Op != "append" || e.Checksum != "2" {
		t.Errorf("latest = %+v", e)
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	mem := storage.NewMemory()
	mem.SetFile("same.txt", []byte("same\n"))
	mem.SetFile("dir/changed.txt", []byte("new\n"))
	mem.SetFile(".~lines.same.txt.tmp", []byte("partial"))

	_, _ = db.Record(ctx, Entry{Path: "same.txt", Op: "overwrite", Checksum: checksum.Sum([]byte("same\n"))})
	_, _ = db.Record(ctx, Entry{Path: "dir/changed.txt", Op: "overwrite", Checksum: "old"})
	_, _ = db.Record(ctx, Entry{Path: "gone.txt", Op: "append", Checksum: "x"})

	skip := func(p string) bool { return strings.HasSuffix(p, ".tmp") }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := Reconcile(ctx, db, mem, skip, logger); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	latest, err := db.LatestAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := latest["same.txt"].Op; got != "overwrite" {
		t.Errorf("same.txt op = %q", got)
	}
	if got := latest["dir/changed.txt"]; got.Op != OpExternal || got.Checksum != checksum.Sum([]byte("new\n")) {
		t.Errorf("changed.txt = %+v", got)
	}
	if got := latest["gone.txt"].Op; got != OpDelete {
		t.Errorf("gone.txt op = %q", got)
	}
	if _, ok := latest[".~lines.same.txt.tmp"]; ok {
		t.Error("temp file should be skipped")
	}

	// A second pass finds nothing new.
	_, before, _ := db.List(ctx, Filter{})
	if err := Reconcile(ctx, db, mem, skip, logger); err != nil {
		t.Fatal(err)
	}
	_, after, _ := db.List(ctx, Filter{})
	if before != after {
		t.Errorf("second reconcile added %d entries", after-before)
	}
}
