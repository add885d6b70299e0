package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/iTrooz/offline-pwa-proxy/internal/queue/migrations"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const migrationTable = "schema_migrations"

// SQLiteStore persists pending items in a SQLite database file
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens the pending item database at path and applies migrations
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logrus.Debugf("Opened pending queue database %s", path)
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append stores item at the tail of the queue named key
func (s *SQLiteStore) Append(ctx context.Context, key string, item PendingItem) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO pending_items (id, storage_key, kind, payload, enqueued_at)
VALUES (?, ?, ?, ?, ?)
`,
		item.ID,
		key,
		string(item.Kind),
		[]byte(item.Payload),
		item.EnqueuedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append pending item: %w", err)
	}
	return nil
}

// List returns the items of the queue named key in insertion order
func (s *SQLiteStore) List(ctx context.Context, key string) ([]PendingItem, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, kind, payload, enqueued_at
FROM pending_items
WHERE storage_key = ?
ORDER BY seq ASC
`, key)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	defer rows.Close()

	var items []PendingItem
	for rows.Next() {
		var (
			item       PendingItem
			kind       string
			payload    []byte
			enqueuedAt int64
		)
		if err := rows.Scan(&item.ID, &kind, &payload, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan pending item: %w", err)
		}
		item.Kind = Kind(kind)
		item.Payload = json.RawMessage(payload)
		item.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending items: %w", err)
	}
	return items, nil
}

// Delete removes the item with id from the queue named key. Deleting a missing item is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, key, id string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM pending_items WHERE storage_key = ? AND id = ?`, key, id); err != nil {
		return fmt.Errorf("delete pending item: %w", err)
	}
	return nil
}

// Count returns the number of items in the queue named key
func (s *SQLiteStore) Count(ctx context.Context, key string) (int, error) {
	var n int
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_items WHERE storage_key = ?`, key)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending items: %w", err)
	}
	return n, nil
}

// applyMigrations executes embedded migrations at most once per file
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	if _, err := sqlDB.Exec(`
CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range sqlFiles {
		var found int
		err := sqlDB.QueryRow("SELECT 1 FROM "+migrationTable+" WHERE name = ?", file).Scan(&found)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := string(content)
		if idx := strings.Index(upSQL, "-- +migrate Up"); idx != -1 {
			upSQL = upSQL[idx+len("-- +migrate Up"):]
		}
		if idx := strings.Index(upSQL, "-- +migrate Down"); idx != -1 {
			upSQL = upSQL[:idx]
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", file, err)
		}
		if _, err := tx.Exec(upSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
			file,
			time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}

	return nil
}
