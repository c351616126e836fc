package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wiresignal-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sweeps (
	id              TEXT PRIMARY KEY,
	trigger         TEXT NOT NULL,
	started_at      DATETIME NOT NULL,
	duration_ms     INTEGER NOT NULL,
	pairs           INTEGER NOT NULL,
	notified        INTEGER NOT NULL,
	not_found       INTEGER NOT NULL,
	delivery_failed INTEGER NOT NULL,
	race_skipped    INTEGER NOT NULL,
	fresh           INTEGER NOT NULL,
	cleared         INTEGER NOT NULL,
	interrupted     BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sweeps_started ON sweeps(started_at DESC);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	// Run setup function (e.g., apply schema)
	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== SweepStore implementation ====

// RecordSweep persists a sweep outcome.
func (s *SQLiteStore) RecordSweep(ctx context.Context, rec *store.SweepRecord) error {
	query := `
		INSERT INTO sweeps (id, trigger, started_at, duration_ms, pairs, notified, not_found,
			delivery_failed, race_skipped, fresh, cleared, interrupted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		string(rec.Trigger),
		rec.StartedAt.UTC(),
		rec.Duration.Milliseconds(),
		rec.Pairs,
		rec.Notified,
		rec.NotFound,
		rec.DeliveryFailed,
		rec.RaceSkipped,
		rec.Fresh,
		rec.Cleared,
		rec.Interrupted,
	)
	if err != nil {
		return fmt.Errorf("insert sweep: %w", err)
	}
	return nil
}

// ListSweeps returns the most recent sweeps, newest first.
func (s *SQLiteStore) ListSweeps(ctx context.Context, limit int) ([]*store.SweepRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, trigger, started_at, duration_ms, pairs, notified, not_found,
			delivery_failed, race_skipped, fresh, cleared, interrupted
		FROM sweeps
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sweeps: %w", err)
	}
	defer rows.Close()

	var records []*store.SweepRecord
	for rows.Next() {
		var (
			rec        store.SweepRecord
			trigger    string
			durationMS int64
		)
		if err := rows.Scan(
			&rec.ID,
			&trigger,
			&rec.StartedAt,
			&durationMS,
			&rec.Pairs,
			&rec.Notified,
			&rec.NotFound,
			&rec.DeliveryFailed,
			&rec.RaceSkipped,
			&rec.Fresh,
			&rec.Cleared,
			&rec.Interrupted,
		); err != nil {
			return nil, fmt.Errorf("scan sweep: %w", err)
		}
		rec.Trigger = store.SweepTrigger(trigger)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// PruneSweeps deletes records started before the cutoff.
func (s *SQLiteStore) PruneSweeps(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sweeps WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete sweeps: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
