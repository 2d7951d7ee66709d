// Package history keeps a persistent ledger of finished batches in DuckDB.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/mailmerge/backend/internal/models"
)

// DefaultLimit is used by Recent when no positive limit is given.
const DefaultLimit = 50

// Store is a DuckDB-backed batch ledger.
type Store struct {
	db     *sql.DB
}

// Open opens or creates the ledger at dbPath.
func Open(dbPath string, threads int) (*Store, error) {
	if threads < 1 {
		threads = 1
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	fmt.Printf("[History] Opening database at: %s\n", dbPath)
	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA threads=%d", threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				fmt.Printf("[History] Pragma warning: %v\n", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS batch_ids START 1`,
		`CREATE TABLE IF NOT EXISTS batches (
			id           BIGINT PRIMARY KEY DEFAULT nextval('batch_ids'),
			label        VARCHAR NOT NULL,
			source_name  VARCHAR NOT NULL,
			archive_path VARCHAR,
			output_dir   VARCHAR,
			outcome      VARCHAR NOT NULL,
			total        INTEGER NOT NULL,
			succeeded    INTEGER NOT NULL,
			failed       INTEGER NOT NULL,
			error        VARCHAR,
			started_at   TIMESTAMP NOT NULL,
			finished_at  TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batch_failures (
			batch_id   BIGINT NOT NULL,
			position   INTEGER NOT NULL,
			record_key VARCHAR NOT NULL,
			stage      VARCHAR NOT NULL,
			attempts   INTEGER NOT NULL,
			reason     VARCHAR
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize history schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Record appends one batch and its failures.
func (s *Store) Record(ctx context.Context, entry models.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO batches (label, source_name, archive_path, output_dir, outcome, total, succeeded, failed, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		entry.Label, entry.SourceName, entry.ArchivePath, entry.OutputDir, string(entry.Outcome),
		entry.Total, entry.Succeeded, entry.Failed, entry.Error,
		entry.StartedAt.UTC(), entry.FinishedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	for _, f := range entry.Failures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_failures (batch_id, position, record_key, stage, attempts, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, f.Position, f.Key, string(f.Stage), f.Attempts, f.Reason,
		)
		if err != nil {
			return fmt.Errorf("failed to insert failure for record %d: %w", f.Position, err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit batches, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, source_name, COALESCE(archive_path, ''), COALESCE(output_dir, ''), outcome,
		       total, succeeded, failed, COALESCE(error, ''), started_at, finished_at
		FROM batches
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var ids []int64
	entries := make([]models.HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			id                int64
			e                 models.HistoryEntry
			outcome           string
			started, finished time.Time
		)
		if err := rows.Scan(&id, &e.Label, &e.SourceName, &e.ArchivePath, &e.OutputDir, &outcome,
			&e.Total, &e.Succeeded, &e.Failed, &e.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Outcome = models.Outcome(outcome)
		e.StartedAt = started.UTC()
		e.FinishedAt = finished.UTC()
		ids = append(ids, id)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		failures, err := s.failures(ctx, id)
		if err != nil {
			return nil, err
		}
		entries[i].Failures = failures
	}
	return entries, nil
}

func (s *Store) failures(ctx context.Context, batchID int64) ([]models.RecordFailure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, record_key, stage, attempts, COALESCE(reason, '')
		FROM batch_failures
		WHERE batch_id = ?
		ORDER BY position`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var out []models.RecordFailure
	for rows.Next() {
		var f models.RecordFailure
		var stage string
		if err := rows.Scan(&f.Position, &f.Key, &stage, &f.Attempts, &f.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan failure row: %w", err)
		}
		f.Stage = models.Stage(stage)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
