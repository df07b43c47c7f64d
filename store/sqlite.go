package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petal-labs/storyline/model"

	_ "modernc.org/sqlite"
)

const specSQLiteSchema = `
CREATE TABLE IF NOT EXISTS specifications (
	id TEXT PRIMARY KEY,
	title TEXT,
	revision TEXT NOT NULL,
	body BLOB NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLiteStoreConfig configures the SQLite spec store.
type SQLiteStoreConfig struct {
	DSN string
}

// SQLiteStore persists specifications in SQLite as JSON documents.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite-backed spec store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("spec sqlite store dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("spec sqlite store open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("spec sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec(specSQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("spec sqlite store create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (model.SpecData, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM specifications WHERE id = ?`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SpecData{}, ErrSpecNotFound
		}
		return model.SpecData{}, fmt.Errorf("spec sqlite store get: %w", err)
	}
	var d model.SpecData
	if err := json.Unmarshal(body, &d); err != nil {
		return model.SpecData{}, fmt.Errorf("spec sqlite store decode %s: %w", id, err)
	}
	return d, nil
}

func (s *SQLiteStore) Put(ctx context.Context, d model.SpecData) (string, error) {
	if d.ID == "" {
		return "", errMissingID
	}
	d.Revision = newRevision()
	body, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("spec sqlite store encode %s: %w", d.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO specifications (id, title, revision, body, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	revision = excluded.revision,
	body = excluded.body,
	updated_at = excluded.updated_at`,
		d.ID, d.Title, d.Revision, body, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("spec sqlite store put: %w", err)
	}
	return d.Revision, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM specifications WHERE id = ?`, id); err != nil {
		return fmt.Errorf("spec sqlite store delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM specifications ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("spec sqlite store list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("spec sqlite store scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spec sqlite store list rows: %w", err)
	}
	return ids, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time interface check.
var _ SpecStore = (*SQLiteStore)(nil)
