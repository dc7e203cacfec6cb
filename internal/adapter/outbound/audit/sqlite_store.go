package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/mcpgate/mcpgate/internal/domain/audit"
)

const createAuditTable = `
CREATE TABLE IF NOT EXISTS audit_records (
	ts        TEXT NOT NULL,
	direction TEXT NOT NULL,
	kind      TEXT,
	method    TEXT,
	id        TEXT,
	size      INTEGER NOT NULL,
	sum       TEXT NOT NULL
)`

const insertAuditRecord = `
INSERT INTO audit_records (ts, direction, kind, method, id, size, sum)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// SQLiteStore persists audit records in a sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the sqlite database at path and
// ensures the audit table exists. Use ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit store: %w", err)
	}
	// The store is written by a single background worker; one connection
	// avoids sqlite's multi-writer locking entirely.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createAuditTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Write inserts one audit record.
func (s *SQLiteStore) Write(ctx context.Context, rec audit.Record) error {
	var id any
	if rec.ID != nil {
		id = string(rec.ID)
	}
	_, err := s.db.ExecContext(ctx, insertAuditRecord,
		rec.Time.Format("2006-01-02T15:04:05.000Z07:00"),
		string(rec.Direction),
		rec.Kind,
		rec.Method,
		id,
		rec.Size,
		rec.Sum,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Count returns the number of stored records. Used by health checks and tests.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time check that SQLiteStore implements the audit port.
var _ audit.Store = (*SQLiteStore)(nil)
