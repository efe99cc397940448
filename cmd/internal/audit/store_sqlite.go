package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore writes events into a local SQLite file. It owns its *sql.DB.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("audit: empty sqlite path")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under the recorder's serial inserts.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_log (
			id         TEXT PRIMARY KEY,
			action     TEXT NOT NULL,
			user_id    TEXT NULL,
			created_at TEXT NOT NULL,
			meta       TEXT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert writes one event.
func (s *SQLiteStore) Insert(ctx context.Context, ev Event) error {
	if s == nil || s.db == nil {
		return errors.New("audit: nil store")
	}

	meta, err := encodeMeta(ev.Meta)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, user_id, created_at, meta)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID, ev.Action, trimOrNil(ev.UserID), ev.At.UTC().Format(time.RFC3339Nano), meta)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit events for userID, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, COALESCE(user_id, ''), created_at
		FROM audit_log
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev Event
			ts string
		)
		if err := rows.Scan(&ev.ID, &ev.Action, &ev.UserID, &ts); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if at, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.At = at
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
