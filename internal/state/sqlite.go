package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"icssync/internal/model"
)

const schema = `CREATE TABLE IF NOT EXISTS sync_state (
	calendar_id TEXT NOT NULL,
	event_id    TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	PRIMARY KEY (calendar_id, event_id)
)`

// SQLiteStore keeps the mappings of all calendars in one SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load returns the mapping for calendarID, empty when never saved.
func (s *SQLiteStore) Load(ctx context.Context, calendarID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, fingerprint FROM sync_state WHERE calendar_id = ?`, calendarID)
	if err != nil {
		return nil, fmt.Errorf("%w: query state: %w", model.ErrRecordIO, err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, fp string
		if err := rows.Scan(&id, &fp); err != nil {
			return nil, fmt.Errorf("%w: scan state: %w", model.ErrRecordIO, err)
		}
		out[id] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read state: %w", model.ErrRecordIO, err)
	}
	return out, nil
}

// Save replaces the mapping for calendarID in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, calendarID string, fingerprints map[string]string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_state WHERE calendar_id = ?`, calendarID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO sync_state (calendar_id, event_id, fingerprint) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, fp := range fingerprints {
			if _, err := stmt.ExecContext(ctx, calendarID, id, fp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: save state: %w", model.ErrRecordIO, err)
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
