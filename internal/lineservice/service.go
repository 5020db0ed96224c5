// Package lineservice coordinates the line engine with everything around
// it: per-path serialization, the mutation journal, change events and
// telemetry. Every transport goes through a Service.
package lineservice

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/starford/linestore/internal/apperr"
	"github.com/starford/linestore/internal/fileops"
	"github.com/starford/linestore/internal/journal"
	"github.com/starford/linestore/internal/lines"
	"github.com/starford/linestore/internal/sse"
	"github.com/starford/linestore/internal/storage"
	"github.com/starford/linestore/internal/telemetry"
)

// Publisher receives change notifications. *sse.Broker implements it.
type Publisher interface {
	PublishFileEvent(kind string, change sse.FileChange)
}

// FileDetail is the full representation of a file.
type FileDetail struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Checksum string `json:"checksum"`
	Lines    int    `json:"lines"`
	Size     int64  `json:"size"`
}

// Count holds both line counts of a file.
type Count struct {
	Path        string `json:"path"`
	Terminators int    `json:"terminators"`
	Lines       int    `json:"lines"`
}

// Result describes a committed mutation.
type Result struct {
	Path     string `json:"path"`
	Op       string `json:"op"`
	Checksum string `json:"checksum"`
	Lines    int    `json:"lines"`
	Created  bool   `json:"created,omitempty"`
}

// Service serializes access per path and records every committed edit.
type Service struct {
	engine  *lines.Engine
	ops     *fileops.Ops
	journal journal.Recorder
	events  Publisher
	log     *slog.Logger
	locks   *pathLocks
}

// Option configures a Service.
type Option func(*Service)

// WithJournal records committed mutations in j.
func WithJournal(j journal.Recorder) Option {
	return func(s *Service) { s.journal = j }
}

// WithPublisher sends change events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a service around engine.
func New(engine *lines.Engine, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		log:    slog.Default(),
		locks:  newPathLocks(),
	}
	for _, o := range opts {
		o(s)
	}
	s.ops = fileops.New(engine.Store(), s.log)
	return s
}

// Engine returns the underlying line engine.
func (s *Service) Engine() *lines.Engine {
	return s.engine
}

// CleanPath normalizes p to the slash-separated, root-relative form used
// for locking and journaling. Temp files and the root itself are rejected.
func CleanPath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", apperr.ErrInvalidPath
	}
	c := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
	if c == "" || lines.IsTempPath(c) {
		return "", apperr.ErrInvalidPath
	}
	return c, nil
}

// cleanDir is CleanPath for directory arguments, where the root is allowed.
func cleanDir(p string) (string, error) {
	if strings.TrimSpace(strings.Trim(p, "/")) == "" {
		return "", nil
	}
	return CleanPath(p)
}

// --- reads ---

func (s *Service) read(ctx context.Context, op, p string, fn func(p string) error) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(p)
	defer unlock()
	start := time.Now()
	err = fn(p)
	telemetry.RecordRead(ctx, op, p, time.Since(start), readOutcome(err))
	return err
}

// readOutcome keeps expected lookups misses out of the error counters.
func readOutcome(err error) error {
	if errors.Is(err, apperr.ErrNoMatch) {
		return nil
	}
	return err
}

// ReadLine returns line n of p.
func (s *Service) ReadLine(ctx context.Context, p string, n int) (string, error) {
	var out string
	err := s.read(ctx, "read_line", p, func(p string) (err error) {
		out, err = s.engine.ReadLine(ctx, p, n)
		return err
	})
	return out, err
}

// ReadRange returns lines first..last of p joined with '\n'.
func (s *Service) ReadRange(ctx context.Context, p string, first, last int) (string, error) {
	var out string
	err := s.read(ctx, "read_range", p, func(p string) (err error) {
		out, err = s.engine.ReadRange(ctx, p, first, last)
		return err
	})
	return strings.TrimSuffix(out, "\n"), err
}

// Get returns the stored body of p with the checksum, line count and size
// of those same bytes.
func (s *Service) Get(ctx context.Context, p string) (*FileDetail, error) {
	var d *FileDetail
	err := s.read(ctx, "read_all", p, func(p string) error {
		snap, err := s.engine.Snapshot(ctx, p)
		if err != nil {
			return err
		}
		d = &FileDetail{
			Path:     p,
			Content:  string(snap.Body),
			Checksum: snap.Checksum,
			Lines:    snap.Lines,
			Size:     int64(len(snap.Body)),
		}
		return nil
	})
	return d, err
}

// Count returns the terminator count and the logical line count of p.
func (s *Service) Count(ctx context.Context, p string) (*Count, error) {
	var c *Count
	err := s.read(ctx, "count", p, func(p string) error {
		k, err := s.engine.CountLines(ctx, p)
		if err != nil {
			return err
		}
		n, err := s.engine.LineCount(ctx, p)
		if err != nil {
			return err
		}
		c = &Count{Path: p, Terminators: k, Lines: n}
		return nil
	})
	return c, err
}

// Search returns the ordinal of the first line of p equal to target.
func (s *Service) Search(ctx context.Context, p, target string) (int, error) {
	idx := -1
	err := s.read(ctx, "search", p, func(p string) (err error) {
		idx, err = s.engine.Search(ctx, p, target)
		return err
	})
	return idx, err
}

// Size returns the byte size of p.
func (s *Service) Size(ctx context.Context, p string) (int64, error) {
	var n int64
	err := s.read(ctx, "size", p, func(p string) (err error) {
		n, err = s.ops.Size(ctx, p)
		return err
	})
	return n, err
}

// --- mutations ---

// mutation is one journaled edit.
type mutation struct {
	op          string
	first, last int
	// emitted change kind; empty derives created/updated from prior existence
	kind string
}

func (s *Service) mutate(ctx context.Context, p string, m mutation, fn func(p string) error) (*Result, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(p)
	defer unlock()
	return s.commitLocked(ctx, p, m, fn)
}

// commitLocked runs fn with p already locked, then records the outcome.
func (s *Service) commitLocked(ctx context.Context, p string, m mutation, fn func(p string) error) (*Result, error) {
	source := SourceFrom(ctx)
	existed := s.engine.Store().Exists(ctx, p)
	start := time.Now()
	err := fn(p)
	if err != nil {
		telemetry.RecordMutation(ctx, m.op, p, source, 0, time.Since(start), err)
		return nil, err
	}

	res := &Result{Path: p, Op: m.op, Created: !existed}
	kind := m.kind
	if kind == "" {
		kind = sse.KindUpdated
		if !existed {
			kind = sse.KindCreated
		}
	}

	var written int64
	if kind != sse.KindDeleted {
		if info, err := s.engine.Store().Stat(ctx, p); err == nil {
			written = info.Size
		}
		if sum, err := s.engine.Checksum(ctx, p); err == nil {
			res.Checksum = sum
		} else {
			s.log.Warn("checksum after commit failed", slog.String("path", p), slog.String("error", err.Error()))
		}
		if n, err := s.engine.LineCount(ctx, p); err == nil {
			res.Lines = n
		}
	}
	telemetry.RecordMutation(ctx, m.op, p, source, written, time.Since(start), nil)

	s.record(ctx, journal.Entry{Path: p, Op: m.op, First: m.first, Last: m.last, Checksum: res.Checksum, Source: source})
	s.publish(kind, sse.FileChange{Path: p, Op: m.op, Source: source})
	return res, nil
}

// record journals e. A journal failure is logged, never surfaced: the
// edit is already on storage.
func (s *Service) record(ctx context.Context, e journal.Entry) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Record(ctx, e); err != nil {
		s.log.Error("journal record failed", slog.String("path", e.Path), slog.String("op", e.Op), slog.String("error", err.Error()))
	}
}

func (s *Service) publish(kind string, change sse.FileChange) {
	if s.events != nil {
		s.events.PublishFileEvent(kind, change)
	}
}

// ReplaceLine substitutes line n of p.
func (s *Service) ReplaceLine(ctx context.Context, p string, n int, content string) (*Result, error) {
	return s.mutate(ctx, p, mutation{op: "replace", first: n, last: n}, func(p string) error {
		return s.engine.ReplaceLine(ctx, p, n, content)
	})
}

// InsertLine places content before line pos of p.
func (s *Service) InsertLine(ctx context.Context, p string, pos int, content string) (*Result, error) {
	return s.mutate(ctx, p, mutation{op: "insert", first: pos, last: pos}, func(p string) error {
		return s.engine.InsertLine(ctx, p, pos, content)
	})
}

// DeleteLine removes line n of p.
func (s *Service) DeleteLine(ctx context.Context, p string, n int) (*Result, error) {
	return s.mutate(ctx, p, mutation{op: "delete_line", first: n, last: n}, func(p string) error {
		return s.engine.DeleteLine(ctx, p, n)
	})
}

// DeleteRange removes lines first..last of p.
func (s *Service) DeleteRange(ctx context.Context, p string, first, last int) (*Result, error) {
	return s.mutate(ctx, p, mutation{op: "delete_range", first: first, last: last}, func(p string) error {
		return s.engine.DeleteRange(ctx, p, first, last)
	})
}

// Overwrite replaces the body of p. A non-empty ifMatch must equal the
// current checksum or apperr.ErrConflict is returned.
func (s *Service) Overwrite(ctx context.Context, p, content, ifMatch string) (*Result, error) {
	return s.mutate(ctx, p, mutation{op: "overwrite", first: -1, last: -1}, func(p string) error {
		if ifMatch != "" {
			sum, err := s.engine.Checksum(ctx, p)
			if err != nil {
				return err
			}
			if sum != ifMatch {
				return apperr.ErrConflict
			}
		}
		return s.engine.Overwrite(ctx, p, content)
	})
}

// Create makes p holding content, or an empty file when content is
// empty. An existing file yields apperr.ErrAlreadyExists.
func (s *Service) Create(ctx context.Context, p, content string) (*Result, error) {
	return s.mutate(ctx, p, mutation{op: "create", first: -1, last: -1}, func(p string) error {
		if content != "" {
			if s.engine.Store().Exists(ctx, p) {
				return apperr.ErrAlreadyExists
			}
			return s.engine.Overwrite(ctx, p, content)
		}
		created, err := s.engine.EnsureExists(ctx, p)
		if err != nil {
			return err
		}
		if !created {
			return apperr.ErrAlreadyExists
		}
		return nil
	})
}

// Append adds content to the end of p verbatim.
func (s *Service) Append(ctx context.Context, p, content string) (*Result, error) {
	return s.mutate(ctx, p, mutation{op: "append", first: -1, last: -1}, func(p string) error {
		return s.engine.Append(ctx, p, content)
	})
}

// Clear truncates p to zero bytes.
func (s *Service) Clear(ctx context.Context, p string) (*Result, error) {
	return s.mutate(ctx, p, mutation{op: "clear", first: -1, last: -1}, func(p string) error {
		return s.engine.Clear(ctx, p)
	})
}

// Delete removes the file p.
func (s *Service) Delete(ctx context.Context, p string) error {
	_, err := s.mutate(ctx, p, mutation{op: journal.OpDelete, first: -1, last: -1, kind: sse.KindDeleted}, func(p string) error {
		defer s.engine.Invalidate(p)
		return s.ops.Delete(ctx, p)
	})
	return err
}

// Copy writes the body of src to dst.
func (s *Service) Copy(ctx context.Context, src, dst string) (*Result, error) {
	src, err := CleanPath(src)
	if err != nil {
		return nil, err
	}
	dst, err = CleanPath(dst)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(src, dst)
	defer unlock()
	return s.commitLocked(ctx, dst, mutation{op: "copy", first: -1, last: -1}, func(p string) error {
		defer s.engine.Invalidate(p)
		return s.ops.Copy(ctx, src, p)
	})
}

// Rename moves oldPath to newPath, refusing to replace an existing file.
func (s *Service) Rename(ctx context.Context, oldPath, newPath string) (*Result, error) {
	oldPath, err := CleanPath(oldPath)
	if err != nil {
		return nil, err
	}
	newPath, err = CleanPath(newPath)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(oldPath, newPath)
	defer unlock()

	res, err := s.commitLocked(ctx, newPath, mutation{op: "rename", first: -1, last: -1, kind: sse.KindCreated}, func(p string) error {
		defer s.engine.Invalidate(oldPath)
		defer s.engine.Invalidate(p)
		return s.ops.Rename(ctx, oldPath, p)
	})
	if err != nil {
		return nil, err
	}
	source := SourceFrom(ctx)
	s.record(ctx, journal.Entry{Path: oldPath, Op: journal.OpDelete, First: -1, Last: -1, Source: source})
	s.publish(sse.KindDeleted, sse.FileChange{Path: oldPath, Op: "rename", Source: source})
	return res, nil
}

// Backup copies p to p+".bak".
func (s *Service) Backup(ctx context.Context, p string) (*Result, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	bak := p + fileops.BackupSuffix
	unlock := s.locks.lock(p, bak)
	defer unlock()
	return s.commitLocked(ctx, bak, mutation{op: "backup", first: -1, last: -1}, func(string) error {
		defer s.engine.Invalidate(bak)
		return s.ops.Backup(ctx, p)
	})
}

// Restore copies p+".bak" back over p.
func (s *Service) Restore(ctx context.Context, p string) (*Result, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	bak := p + fileops.BackupSuffix
	unlock := s.locks.lock(p, bak)
	defer unlock()
	return s.commitLocked(ctx, p, mutation{op: "restore", first: -1, last: -1}, func(p string) error {
		defer s.engine.Invalidate(p)
		return s.ops.Restore(ctx, p)
	})
}

// --- directories ---

// Mkdir creates dir and its parents.
func (s *Service) Mkdir(ctx context.Context, dir string) error {
	dir, err := CleanPath(dir)
	if err != nil {
		return err
	}
	if err := s.ops.Mkdir(ctx, dir); err != nil {
		return err
	}
	s.publish(sse.KindCreated, sse.FileChange{Path: dir, Op: "mkdir", Source: SourceFrom(ctx)})
	return nil
}

// IsEmptyDir reports whether dir has no entries.
func (s *Service) IsEmptyDir(ctx context.Context, dir string) (bool, error) {
	dir, err := cleanDir(dir)
	if err != nil {
		return false, err
	}
	return s.ops.IsEmptyDir(ctx, dir)
}

// Tree lists dir recursively, hiding temp files.
func (s *Service) Tree(ctx context.Context, dir string) ([]fileops.Entry, error) {
	dir, err := cleanDir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := s.ops.Tree(ctx, dir)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if !lines.IsTempPath(e.Path) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Purge deletes dir and everything below it. The root is emptied but kept.
func (s *Service) Purge(ctx context.Context, dir string) error {
	dir, err := cleanDir(dir)
	if err != nil {
		return err
	}
	entries, err := s.ops.Tree(ctx, dir)
	if err != nil {
		return err
	}
	err = s.ops.RemoveAll(ctx, dir)
	source := SourceFrom(ctx)
	for _, e := range entries {
		if e.IsDir || s.engine.Store().Exists(ctx, e.Path) {
			continue
		}
		s.engine.Invalidate(e.Path)
		s.record(ctx, journal.Entry{Path: e.Path, Op: journal.OpDelete, First: -1, Last: -1, Source: source})
		s.publish(sse.KindDeleted, sse.FileChange{Path: e.Path, Op: "purge", Source: source})
	}
	return err
}

// Usage reports the storage space counters.
func (s *Service) Usage(ctx context.Context) (storage.Usage, error) {
	return s.ops.Usage(ctx)
}

// History returns journal entries for p, or for every file when p is
// empty, newest first.
func (s *Service) History(ctx context.Context, p string, limit, offset int) ([]journal.Entry, int, error) {
	if s.journal == nil {
		return []journal.Entry{}, 0, nil
	}
	if p != "" {
		var err error
		if p, err = CleanPath(p); err != nil {
			return nil, 0, err
		}
	}
	entries, total, err := s.journal.List(ctx, journal.Filter{Path: p, Limit: limit, Offset: offset})
	if err != nil {
		return nil, 0, err
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return entries, total, nil
}

// Notify records a change made outside the service, as reported by the
// watcher. kind is one of the sse.Kind constants.
func (s *Service) Notify(ctx context.Context, p, kind string) {
	p, err := CleanPath(p)
	if err != nil {
		return
	}
	s.engine.Invalidate(p)
	entry := journal.Entry{Path: p, Op: journal.OpExternal, First: -1, Last: -1, Source: SourceWatcher}
	if kind == sse.KindDeleted {
		entry.Op = journal.OpDelete
		if s.journal != nil {
			if prev, err := s.journal.Latest(ctx, p); err == nil && prev.Op == journal.OpDelete {
				return
			}
		}
	} else {
		unlock := s.locks.lock(p)
		sum, err := s.engine.Checksum(ctx, p)
		unlock()
		if err != nil {
			return
		}
		if s.journal != nil {
			if prev, err := s.journal.Latest(ctx, p); err == nil && prev.Checksum == sum {
				// Our own commit, already journaled.
				return
			}
		}
		entry.Checksum = sum
	}
	s.record(ctx, entry)
	s.publish(kind, sse.FileChange{Path: p, Op: entry.Op, Source: SourceWatcher})
}
