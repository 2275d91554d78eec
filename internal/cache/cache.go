// Package cache provides the local SQLite mirror of the item list.
//
// The daemon writes every received snapshot into the cache so the CLI
// can answer list queries while offline or while no daemon is running.
// The cache is always a full replace of the previous snapshot; it is a
// mirror, not a source of truth, and is never written back to the
// remote store.
//
// The database runs embedded with WAL mode so concurrent CLI reads do
// not block the daemon's writes.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/pocketlist/pocketlist/internal/item"
)

// Cache wraps the SQLite connection holding the mirrored item list.
type Cache struct {
	conn *sql.DB
	path string
}

// Open creates a cache connection at the specified path.
//
// If the database doesn't exist it is created; call InitSchema before
// first use. The caller MUST call Close() when done.
//
// Example:
//
//	c, err := cache.Open(filepath.Join(dataDir, "items.db"))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	c := &Cache{conn: conn, path: path}

	// WAL keeps CLI reads from blocking daemon writes.
	if _, err := c.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := c.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return c, nil
}

// Close closes the cache connection, checkpointing the WAL first.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}

	if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}

	c.conn = nil
	return nil
}

// InitSchema creates the items table if it doesn't exist. Idempotent.
func (c *Cache) InitSchema() error {
	return c.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (c *Cache) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		created_at REAL NOT NULL,
		image_url  TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_items_created_at
		ON items(created_at DESC);
	`

	if _, err := c.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ReplaceAll mirrors a full snapshot into the cache in one transaction.
// The previous contents are discarded, matching the snapshot-replace
// model of the subscription.
func (c *Cache) ReplaceAll(ctx context.Context, items []item.Item) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO items (id, title, created_at, image_url) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.ID, it.Title, it.CreatedAt, it.ImageURL); err != nil {
			return fmt.Errorf("failed to insert item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// List returns the mirrored items, newest first.
func (c *Cache) List(ctx context.Context) ([]item.Item, error) {
	rows, err := c.conn.QueryContext(ctx,
		"SELECT id, title, created_at, image_url FROM items ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []item.Item
	for rows.Next() {
		var it item.Item
		if err := rows.Scan(&it.ID, &it.Title, &it.CreatedAt, &it.ImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	return items, nil
}

// Count returns the number of mirrored items.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var count int
	if err := c.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}
