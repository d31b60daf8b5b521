package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteConfig opens a single-table key/value database. MaxPageCount caps the
// database size in pages when positive; a write that would grow past it fails
// with SQLITE_FULL.
type SQLiteConfig struct {
	Path         string
	MaxPageCount int
}

// SQLiteMedium keeps values in a SQLite kv table.
type SQLiteMedium struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteMedium, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage: sqlite path required")
	}
	if path != ":memory:" {
		path = filepath.Clean(path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// Pragmas are per connection and an in-memory database lives only as
	// long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w: %w", ErrUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: create kv table: %w", err)
	}
	if cfg.MaxPageCount > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA max_page_count = %d", cfg.MaxPageCount)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: set max_page_count: %w", err)
		}
	}
	return &SQLiteMedium{db: db}, nil
}

func (m *SQLiteMedium) Name() string { return "sqlite" }

func (m *SQLiteMedium) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := m.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: sqlite get: %w: %w", ErrUnavailable, err)
	}
	return value, true, nil
}

func (m *SQLiteMedium) Set(ctx context.Context, key, value string) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		if isSQLiteFull(err) {
			return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("storage: sqlite set: %w", err)
	}
	return nil
}

func (m *SQLiteMedium) Remove(ctx context.Context, key string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage: sqlite delete: %w", err)
	}
	return nil
}

func (m *SQLiteMedium) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func isSQLiteFull(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3lib.SQLITE_FULL
}
