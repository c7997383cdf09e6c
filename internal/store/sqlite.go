package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in a single SQLite table, one row per key.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps SQLITE_BUSY away.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entity_data (
		entity_id TEXT NOT NULL,
		key TEXT NOT NULL,
		type INTEGER NOT NULL,
		value REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (entity_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_entity_data_entity ON entity_data(entity_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, id uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, type, value FROM entity_data WHERE entity_id = ?`, id.String())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	defer rows.Close()

	rec := Record{}
	for rows.Next() {
		var (
			key   string
			typ   int
			value float64
		)
		if err := rows.Scan(&key, &typ, &value); err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		switch DataType(typ) {
		case TypeBool:
			rec[key] = BoolValue(value != 0)
		case TypeFloat:
			rec[key] = FloatValue(value)
		default:
			// Written by a newer version; leave it alone.
			continue
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return rec, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, id uuid.UUID, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_data WHERE entity_id = ?`, id.String()); err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entity_data (entity_id, key, type, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	defer stmt.Close()

	for key, v := range rec {
		var raw float64
		switch v.Type {
		case TypeBool:
			if v.Bool {
				raw = 1
			}
		case TypeFloat:
			raw = v.Float
		default:
			return fmt.Errorf("save %s: key %q has invalid type %d", id, key, v.Type)
		}
		if _, err := stmt.ExecContext(ctx, id.String(), key, int(v.Type), raw); err != nil {
			return fmt.Errorf("save %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
