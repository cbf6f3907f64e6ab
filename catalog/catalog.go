package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"camera-dashboard/snapshot"

	_ "github.com/mattn/go-sqlite3"
)

const DefaultLimit = 50

// Entry is one indexed snapshot file
type Entry struct {
	ID      int64     `json:"id"`
	Host    string    `json:"host"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	TakenAt time.Time `json:"taken_at"`
}

// Catalog indexes snapshot files in SQLite. It never touches the files.
type Catalog struct {
	conn *sql.DB
	mu   sync.RWMutex
}

func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	c := &Catalog{conn: conn}

	if err = c.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}

	return c, nil
}

func (c *Catalog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER DEFAULT 0,
		taken_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_host ON snapshots(host);
	CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);
	`

	_, err := c.conn.Exec(schema)
	return err
}

func (c *Catalog) Close() error {
	return c.conn.Close()
}

// Add indexes a saved snapshot and returns its ID
func (c *Catalog) Add(ctx context.Context, shot *snapshot.Shot) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.conn.ExecContext(ctx, `
		INSERT INTO snapshots (host, path, size, taken_at)
		VALUES (?, ?, ?, ?)
	`, shot.Host, shot.Path, shot.Size, shot.TakenAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return result.LastInsertId()
}

// Recent returns the latest snapshots of all cameras, newest first
func (c *Catalog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return c.query(ctx, `
		SELECT id, host, path, size, taken_at FROM snapshots
		ORDER BY taken_at DESC, id DESC LIMIT ?
	`, normLimit(limit))
}

// ForHost returns the latest snapshots of one camera, newest first
func (c *Catalog) ForHost(ctx context.Context, host string, limit int) ([]Entry, error) {
	return c.query(ctx, `
		SELECT id, host, path, size, taken_at FROM snapshots
		WHERE host = ?
		ORDER BY taken_at DESC, id DESC LIMIT ?
	`, host, normLimit(limit))
}

func (c *Catalog) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err = rows.Scan(&e.ID, &e.Host, &e.Path, &e.Size, &e.TakenAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func normLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
