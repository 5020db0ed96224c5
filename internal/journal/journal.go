// Package journal keeps a SQLite log of committed file mutations. It is
// write-mostly observability: the line engine never consults it.
package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS mutations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	path       TEXT NOT NULL,
	op         TEXT NOT NULL,
	first_line INTEGER NOT NULL DEFAULT -1,
	last_line  INTEGER NOT NULL DEFAULT -1,
	checksum   TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT '',
	at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_mutations_path ON mutations(path, id);
`

// Recorder is the subset of the journal the line service writes to.
// Consumers depend on it so tests can substitute a fake.
type Recorder interface {
	Record(ctx context.Context, e Entry) (int64, error)
	List(ctx context.Context, f Filter) ([]Entry, int, error)
	Latest(ctx context.Context, path string) (*Entry, error)
	Close() error
}

// DB wraps a sql.DB with journal operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

var _ Recorder = (*DB)(nil)
