package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/linestore/internal/apperr"
)

// Entry is one committed mutation.
type Entry struct {
	ID       int64     `json:"id"`
	Path     string    `json:"path"`
	Op       string    `json:"op"`
	First    int       `json:"first"`
	Last     int       `json:"last"`
	Checksum string    `json:"checksum"`
	Source   string    `json:"source"`
	At       time.Time `json:"at"`
}

// Filter narrows List. An empty Path lists every file.
type Filter struct {
	Path   string
	Limit  int
	Offset int
}

// Record appends e and returns its id. A zero At is stamped with the
// current time.
func (db *DB) Record(ctx context.Context, e Entry) (int64, error) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO mutations (path, op, first_line, last_line, checksum, source, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Path, e.Op, e.First, e.Last, e.Checksum, e.Source, e.At)
	if err != nil {
		return 0, fmt.Errorf("journal: record: %w", err)
	}
	return res.LastInsertId()
}

// List returns entries newest first along with the total matching count.
func (db *DB) List(ctx context.Context, f Filter) ([]Entry, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	where := ""
	var args []any
	if f.Path != "" {
		where = "WHERE path = ?"
		args = append(args, f.Path)
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM mutations `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("journal: count: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, path, op, first_line, last_line, checksum, source, at
		FROM mutations `+where+`
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Path, &e.Op, &e.First, &e.Last, &e.Checksum, &e.Source, &e.At); err != nil {
			return nil, 0, fmt.Errorf("journal: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// Latest returns the newest entry for path, or apperr.ErrNotFound.
func (db *DB) Latest(ctx context.Context, path string) (*Entry, error) {
	var e Entry
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, path, op, first_line, last_line, checksum, source, at
		FROM mutations WHERE path = ?
		ORDER BY id DESC LIMIT 1
	`, path).Scan(&e.ID, &e.Path, &e.Op, &e.First, &e.Last, &e.Checksum, &e.Source, &e.At)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("journal: latest: %w", err)
	}
	return &e, nil
}

// LatestAll returns the newest entry of every path in the journal.
func (db *DB) LatestAll(ctx context.Context) (map[string]Entry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT m.id, m.path, m.op, m.first_line, m.last_line, m.checksum, m.source, m.at
		FROM mutations m
		JOIN (SELECT path, MAX(id) AS id FROM mutations GROUP BY path) latest ON latest.id = m.id
	`)
	if err != nil {
		return nil, fmt.Errorf("journal: latest all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Entry)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Path, &e.Op, &e.First, &e.Last, &e.Checksum, &e.Source, &e.At); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		out[e.Path] = e
	}
	return out, rows.Err()
}
