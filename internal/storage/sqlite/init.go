package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS items (
	identifier TEXT PRIMARY KEY,
	source_key TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	updated_at TEXT NOT NULL,
	locked_by TEXT
)`

// InitDB opens the SQLite ledger at path and creates the items table if it
// doesn't exist.
func InitDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize writers from the worker pool on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create items table: %w", err)
	}

	return db, nil
}
