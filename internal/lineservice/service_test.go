package lineservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/linestore/internal/apperr"
	"github.com/starford/linestore/internal/checksum"
	"github.com/starford/linestore/internal/journal"
	"github.com/starford/linestore/internal/lines"
	"github.com/starford/linestore/internal/sse"
	"github.com/starford/linestore/internal/storage"
)

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) PublishFileEvent(kind string, c sse.FileChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, kind+":"+c.Path+":"+c.Op)
}

func (f *fakeEvents) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fixture struct {
	svc    *Service
	mem    *storage.Memory
	db     *journal.DB
	events *fakeEvents
}

func setup(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	mem := storage.NewMemory()
	for p, b := range files {
		mem.SetFile(p, []byte(b))
	}
	db, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := lines.New(mem, lines.WithLogger(log), lines.WithOffsetCache(1<<20))
	t.Cleanup(eng.Close)

	ev := &fakeEvents{}
	svc := New(eng, WithJournal(db), WithPublisher(ev), WithLogger(log))
	return &fixture{svc: svc, mem: mem, db: db, events: ev}
}

func (f *fixture) body(t *testing.T, p string) string {
	t.Helper()
	data, ok := f.mem.File(p)
	if !ok {
		t.Fatalf("file %s missing", p)
	}
	return string(data)
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in, want string
		err      bool
	}{
		{"a.txt", "a.txt", false},
		{"/a.txt", "a.txt", false},
		{"dir/../b.txt", "b.txt", false},
		{"../../etc/passwd", "etc/passwd", false},
		{`dir\c.txt`, "dir/c.txt", false},
		{"", "", true},
		{"/", "", true},
		{"dir/.~lines.f.txt.tmp", "", true},
		{"dir/.session.tmp", "dir/.session.tmp", false},
		{"a\x00b", "", true},
	}
	for _, tc := range tests {
		got, err := CleanPath(tc.in)
		if tc.err {
			if !errors.Is(err, apperr.ErrInvalidPath) {
				t.Errorf("CleanPath(%q) err = %v, want ErrInvalidPath", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("CleanPath(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestReplaceRecordsJournalAndEvent(t *testing.T) {
	f := setup(t, map[string]string{"f.txt": "a\nb\nc\n"})
	ctx := WithSource(context.Background(), SourceAPI)

	res, err := f.svc.ReplaceLine(ctx, "/f.txt", 1, "X")
	if err != nil {
		t.Fatalf("ReplaceLine: %v", err)
	}
	if got := f.body(t, "f.txt"); got != "a\nX\nc\n" {
		t.Errorf("body = %q", got)
	}
	if res.Checksum != checksum.Sum([]byte("a\nX\nc\n")) {
		t.Errorf("checksum = %s", res.Checksum)
	}
	if res.Lines != 3 || res.Created {
		t.Errorf("result = %+v", res)
	}

	e, err := f.db.Latest(ctx, "f.txt")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if e.Op != "replace" || e.First != 1 || e.Source != SourceAPI || e.Checksum != res.Checksum {
		t.Errorf("journal entry = %+v", e)
	}

	ev := f.events.list()
	if len(ev) != 1 || ev[0] != "updated:f.txt:replace" {
		t.Errorf("events = %v", ev)
	}
}

func TestFailedMutationNotJournaled(t *testing.T) {
	f := setup(t, map[string]string{"f.txt": "a\n"})
	ctx := context.Background()

	if _, err := f.svc.DeleteRange(ctx, "f.txt", 5, 6); !errors.Is(err, apperr.ErrInvalidRange) {
		t.Fatalf("DeleteRange err = %v", err)
	}
	if _, err := f.svc.ReplaceLine(ctx, "missing.txt", 0, "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ReplaceLine missing err = %v", err)
	}
	_, total, err := f.db.List(ctx, journal.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 0 {
		t.Errorf("journal has %d entries, want 0", total)
	}
	if ev := f.events.list(); len(ev) != 0 {
		t.Errorf("events = %v", ev)
	}
}

func TestReads(t *testing.T) {
	f := setup(t, map[string]string{"f.txt": "a\nb\nc"})
	ctx := context.Background()

	line, err := f.svc.ReadLine(ctx, "f.txt", 2)
	if err != nil || line != "c" {
		t.Errorf("ReadLine = %q, %v", line, err)
	}
	rng, err := f.svc.ReadRange(ctx, "f.txt", 0, 1)
	if err != nil || rng != "a\nb" {
		t.Errorf("ReadRange = %q, %v", rng, err)
	}
	c, err := f.svc.Count(ctx, "f.txt")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if c.Terminators != 2 || c.Lines != 3 {
		t.Errorf("Count = %+v", c)
	}
	idx, err := f.svc.Search(ctx, "f.txt", "b")
	if err != nil || idx != 1 {
		t.Errorf("Search = %d, %v", idx, err)
	}
	if _, err := f.svc.Search(ctx, "f.txt", "zz"); !errors.Is(err, apperr.ErrNoMatch) {
		t.Errorf("Search miss err = %v", err)
	}
	d, err := f.svc.Get(ctx, "f.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Content != "a\nb\nc" || d.Lines != 3 || d.Size != 5 {
		t.Errorf("Get = %+v", d)
	}
}

func TestOverwriteIfMatch(t *testing.T) {
	f := setup(t, map[string]string{"f.txt": "old\n"})
	ctx := context.Background()

	if _, err := f.svc.Overwrite(ctx, "f.txt", "new\n", "deadbeef"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale If-Match err = %v", err)
	}
	if got := f.body(t, "f.txt"); got != "old\n" {
		t.Errorf("body changed on conflict: %q", got)
	}
	res, err := f.svc.Overwrite(ctx, "f.txt", "new\n", checksum.Sum([]byte("old\n")))
	if err != nil {
		t.Fatalf("Overwrite: %v", err)
	}
	if res.Checksum != checksum.Sum([]byte("new\n")) {
		t.Errorf("checksum = %s", res.Checksum)
	}
}

func TestOverwriteAfterSameSizeOutsideEdit(t *testing.T) {
	f := setup(t, map[string]string{"f.txt": "ab\ncd\n"})
	ctx := context.Background()

	d, err := f.svc.Get(ctx, "f.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := f.svc.ReadLine(ctx, "f.txt", 0); err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	f.mem.SetFile("f.txt", []byte("x\nyzw\n"))

	if line, err := f.svc.ReadLine(ctx, "f.txt", 0); err != nil || line != "x" {
		t.Errorf("ReadLine after outside edit = %q, %v", line, err)
	}
	if _, err := f.svc.Overwrite(ctx, "f.txt", "mine\n", d.Checksum); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("Overwrite with pre-edit checksum err = %v", err)
	}
	if got := f.body(t, "f.txt"); got != "x\nyzw\n" {
		t.Errorf("body = %q", got)
	}
}

func TestGetUnterminated(t *testing.T) {
	f := setup(t, map[string]string{"f.txt": "a\nb"})

	d, err := f.svc.Get(context.Background(), "f.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Content != "a\nb" {
		t.Errorf("Content = %q", d.Content)
	}
	if d.Size != 3 {
		t.Errorf("Size = %d, want 3", d.Size)
	}
	if d.Checksum != checksum.Sum([]byte(d.Content)) {
		t.Errorf("checksum does not cover content %q", d.Content)
	}
	if d.Lines != 2 {
		t.Errorf("Lines = %d, want 2", d.Lines)
	}
}

func TestCreateAppendDelete(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "n.txt", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !res.Created {
		t.Errorf("Created = false")
	}
	if _, err := f.svc.Create(ctx, "n.txt", ""); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("second Create err = %v", err)
	}
	if _, err := f.svc.Append(ctx, "n.txt", "x\n"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := f.body(t, "n.txt"); got != "x\n" {
		t.Errorf("body = %q", got)
	}
	if err := f.svc.Delete(ctx, "n.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := f.mem.File("n.txt"); ok {
		t.Errorf("file still present")
	}
	if err := f.svc.Delete(ctx, "n.txt"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second Delete err = %v", err)
	}

	want := []string{"created:n.txt:create", "updated:n.txt:append", "deleted:n.txt:delete"}
	got := f.events.list()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRenameBackupRestore(t *testing.T) {
	f := setup(t, map[string]string{"a.txt": "1\n", "b.txt": "2\n"})
	ctx := context.Background()

	if _, err := f.svc.Rename(ctx, "a.txt", "b.txt"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("clobbering Rename err = %v", err)
	}
	if _, err := f.svc.Rename(ctx, "a.txt", "c.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got := f.body(t, "c.txt"); got != "1\n" {
		t.Errorf("renamed body = %q", got)
	}
	e, err := f.db.Latest(ctx, "a.txt")
	if err != nil || e.Op != journal.OpDelete {
		t.Errorf("old path entry = %+v, %v", e, err)
	}

	if _, err := f.svc.Backup(ctx, "c.txt"); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if _, err := f.svc.ReplaceLine(ctx, "c.txt", 0, "changed"); err != nil {
		t.Fatalf("ReplaceLine: %v", err)
	}
	if _, err := f.svc.Restore(ctx, "c.txt"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	// The offset cache must not serve the pre-restore table.
	line, err := f.svc.ReadLine(ctx, "c.txt", 0)
	if err != nil || line != "1" {
		t.Errorf("ReadLine after restore = %q, %v", line, err)
	}
}

func TestTreeHidesTempAndPurge(t *testing.T) {
	f := setup(t, map[string]string{
		"d/a.txt":             "a\n",
		"d/.~lines.a.txt.tmp": "partial",
		"d/sub/b.txt":         "b\n",
		"keep.txt":            "k\n",
	})
	ctx := context.Background()

	entries, err := f.svc.Tree(ctx, "d")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	for _, e := range entries {
		if lines.IsTempPath(e.Path) {
			t.Errorf("temp file listed: %s", e.Path)
		}
	}
	if err := f.svc.Purge(ctx, "d"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if f.mem.Exists(ctx, "d") {
		t.Errorf("purged dir still present")
	}
	empty, err := f.svc.IsEmptyDir(ctx, "")
	if err != nil || empty {
		t.Errorf("root IsEmptyDir = %v, %v", empty, err)
	}
	if e, err := f.db.Latest(ctx, "d/sub/b.txt"); err != nil || e.Op != journal.OpDelete {
		t.Errorf("purge entry = %+v, %v", e, err)
	}
	if _, ok := f.mem.File("keep.txt"); !ok {
		t.Errorf("file outside purged dir removed")
	}
}

func TestHistory(t *testing.T) {
	f := setup(t, map[string]string{"f.txt": "a\n"})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.svc.InsertLine(ctx, "f.txt", 0, "x"); err != nil {
			t.Fatalf("InsertLine: %v", err)
		}
	}
	entries, total, err := f.svc.History(ctx, "/f.txt", 2, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 3 || len(entries) != 2 {
		t.Errorf("History total=%d len=%d", total, len(entries))
	}

	bare := New(f.svc.Engine())
	entries, total, err = bare.History(ctx, "", 10, 0)
	if err != nil || total != 0 || entries == nil {
		t.Errorf("History without journal = %v, %d, %v", entries, total, err)
	}
}

func TestNotifySkipsOwnCommits(t *testing.T) {
	f := setup(t, map[string]string{"f.txt": "a\n"})
	ctx := context.Background()

	if _, err := f.svc.Append(ctx, "f.txt", "b\n"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	f.svc.Notify(ctx, "f.txt", sse.KindUpdated)
	_, total, _ := f.db.List(ctx, journal.Filter{Path: "f.txt"})
	if total != 1 {
		t.Errorf("own commit journaled twice: total=%d", total)
	}

	f.mem.SetFile("f.txt", []byte("external\n"))
	f.svc.Notify(ctx, "f.txt", sse.KindUpdated)
	e, err := f.db.Latest(ctx, "f.txt")
	if err != nil || e.Op != journal.OpExternal || e.Source != SourceWatcher {
		t.Errorf("external entry = %+v, %v", e, err)
	}
	line, err := f.svc.ReadLine(ctx, "f.txt", 0)
	if err != nil || line != "external" {
		t.Errorf("ReadLine after external edit = %q, %v", line, err)
	}
}

func TestConcurrentEditsSerialized(t *testing.T) {
	f := setup(t, map[string]string{"f.txt": ""})
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.InsertLine(ctx, "f.txt", 0, "x"); err != nil {
				t.Errorf("InsertLine: %v", err)
			}
		}()
	}
	wg.Wait()

	c, err := f.svc.Count(ctx, "f.txt")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if c.Lines != n {
		t.Errorf("lines = %d, want %d (lost update)", c.Lines, n)
	}
	if f.svc.locks.size() != 0 {
		t.Errorf("lock table not drained: %d", f.svc.locks.size())
	}
}

func TestSourceFrom(t *testing.T) {
	if got := SourceFrom(context.Background()); got != SourceCLI {
		t.Errorf("default source = %q", got)
	}
	if got := SourceFrom(WithSource(context.Background(), SourceMCP)); got != SourceMCP {
		t.Errorf("source = %q", got)
	}
}
