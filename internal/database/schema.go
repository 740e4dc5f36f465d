// Database schema and bootstrap for the feedie crawler.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const Schema = `
-- Feeds table. Rows are operator-owned; this subsystem only ever
-- sets or clears last_error.
CREATE TABLE IF NOT EXISTS feeds (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    last_error TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Per-feed ledger of every item fingerprint ever accepted. Append-only:
-- the sync path never removes rows, and prune does not touch this table.
CREATE TABLE IF NOT EXISTS feed_hashes (
    feed_id TEXT NOT NULL,
    hash TEXT NOT NULL,
    PRIMARY KEY (feed_id, hash),
    FOREIGN KEY (feed_id) REFERENCES feeds(id)
);

-- Items table. id is the link-based potential hash.
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    link_hash TEXT NOT NULL,
    title_hash TEXT NOT NULL,
    feed_id TEXT NOT NULL,
    feed_title TEXT,
    link TEXT NOT NULL,
    title TEXT NOT NULL,
    preview TEXT,
    description TEXT,
    featured_image TEXT,
    created_at TIMESTAMP NOT NULL,
    pub_date TIMESTAMP NOT NULL,
    FOREIGN KEY (feed_id) REFERENCES feeds(id)
);

-- Team items assert that an item is claimed by some consuming team.
-- Read-only input here: written by the main application, consulted by
-- prune to decide which aged items must be retained.
CREATE TABLE IF NOT EXISTS team_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id TEXT NOT NULL
);

-- Users table. items_read is a JSON array of item identity strings;
-- prune rewrites it per affected user when items are deleted.
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT,
    items_read TEXT NOT NULL DEFAULT '[]'
);`

const Indexes = `
CREATE INDEX IF NOT EXISTS idx_items_pub_date ON items(pub_date);
CREATE INDEX IF NOT EXISTS idx_items_feed ON items(feed_id);
CREATE INDEX IF NOT EXISTS idx_team_items_item ON team_items(item_id);`

// DB represents our database connection and operations
type DB struct {
	*sql.DB
}

// Configuration for the database
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the default database configuration
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// NewDB opens the SQLite database, applies the schema and returns the
// shared store handle.
func NewDB(dbPath string, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON&_synchronous=NORMAL",
		dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating schema: %w", err)
	}

	return &DB{db}, nil
}

func createSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(Schema); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	if _, err := tx.Exec(Indexes); err != nil {
		return fmt.Errorf("error creating indexes: %w", err)
	}

	return tx.Commit()
}
