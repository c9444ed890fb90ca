package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS capabilities (
		key TEXT PRIMARY KEY,
		root TEXT NOT NULL,
		saved_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS exports (
		id TEXT PRIMARY KEY,
		page_url TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'running',
		stage TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		assets INTEGER NOT NULL DEFAULT 0,
		replaced INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS exports_started_at ON exports (started_at)`,
}

// InitDB opens the SQLite database at path and creates the tables if they don't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()

			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return db, nil
}
