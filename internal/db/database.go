// Package db persists session snapshots so a session survives server
// restarts and idle-session reaping. The live engine never reads from here
// on the hot path; snapshots are written behind applied updates and read
// only when a session id is not live.
package db

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

// SessionSnapshot is the persisted form of a session.
type SessionSnapshot struct {
	ID        string
	Title     string
	Document  string
	Language  string
	IsPublic  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_snapshots (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		document TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'plaintext',
		is_public BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_session_snapshots_updated_at ON session_snapshots(updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveSnapshot upserts the persisted state of a session.
func (d *Database) SaveSnapshot(id, title, document, language string, isPublic bool) error {
	_, err := d.db.Exec(`
		INSERT INTO session_snapshots (id, title, document, language, is_public, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			document = excluded.document,
			language = excluded.language,
			is_public = excluded.is_public,
			updated_at = CURRENT_TIMESTAMP
	`, id, title, document, language, isPublic)
	return err
}

// GetSnapshot returns the persisted session, or nil when none exists.
func (d *Database) GetSnapshot(id string) (*SessionSnapshot, error) {
	row := d.db.QueryRow(`
		SELECT id, title, document, language, is_public, created_at, updated_at
		FROM session_snapshots WHERE id = ?
	`, id)

	var s SessionSnapshot
	err := row.Scan(&s.ID, &s.Title, &s.Document, &s.Language, &s.IsPublic, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSnapshot removes a persisted session.
func (d *Database) DeleteSnapshot(id string) error {
	_, err := d.db.Exec("DELETE FROM session_snapshots WHERE id = ?", id)
	return err
}

// ListSnapshots returns persisted sessions ordered by most recent activity.
func (d *Database) ListSnapshots(limit, offset int) ([]SessionSnapshot, error) {
	rows, err := d.db.Query(`
		SELECT id, title, document, language, is_public, created_at, updated_at
		FROM session_snapshots ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSnapshot
	for rows.Next() {
		var s SessionSnapshot
		if err := rows.Scan(&s.ID, &s.Title, &s.Document, &s.Language, &s.IsPublic, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetStats reports persisted-session counts for the stats endpoint.
func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var count int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM session_snapshots").Scan(&count); err != nil {
		return nil, err
	}
	stats["snapshot_count"] = count

	return stats, nil
}
