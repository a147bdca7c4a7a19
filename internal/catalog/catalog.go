// Package catalog persists backup run history in a local SQLite database.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/driveback/driveback/internal/backup"
	"github.com/driveback/driveback/internal/models"
)

// ErrRunNotFound is returned when a run ID has no history entry.
var ErrRunNotFound = errors.New("run not found")

// Catalog stores run summaries for the history command.
type Catalog struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the history database at dbPath.
func Open(dbPath string, logger zerolog.Logger) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	c := &Catalog{
		db:     db,
		logger: logger.With().Str("component", "catalog").Logger(),
	}

	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}

	c.logger.Debug().Str("path", dbPath).Msg("history database opened")

	return c, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// migrate creates the necessary tables.
func (c *Catalog) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			cancelled INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

		CREATE TABLE IF NOT EXISTS run_targets (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			target_name TEXT NOT NULL,
			category TEXT NOT NULL,
			succeeded INTEGER NOT NULL,
			stage TEXT NOT NULL,
			error_detail TEXT,
			artifact_name TEXT,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			deletions_attempted INTEGER NOT NULL DEFAULT 0,
			deletions_failed INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, position)
		);
	`

	_, err := c.db.Exec(schema)
	return err
}

// RecordRun persists a completed run summary and its per-target outcomes.
func (c *Catalog) RecordRun(ctx context.Context, summary *backup.RunSummary) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, completed_at, cancelled) VALUES (?, ?, ?, ?)`,
		summary.ID.String(),
		summary.StartedAt.Format(time.RFC3339),
		summary.CompletedAt.Format(time.RFC3339),
		boolToInt(summary.Cancelled),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, o := range summary.Outcomes {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_targets (run_id, position, target_name, category, succeeded, stage, error_detail, artifact_name, size_bytes, deletions_attempted, deletions_failed, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			summary.ID.String(),
			i,
			o.TargetName,
			string(o.Category),
			boolToInt(o.Succeeded),
			o.Stage,
			nullString(o.ErrorDetail),
			nullString(o.ArtifactName),
			o.SizeBytes,
			o.DeletionsAttempted,
			o.DeletionsFailed,
			o.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert run target: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}

	c.logger.Debug().
		Str("run_id", summary.ID.String()).
		Int("targets", len(summary.Outcomes)).
		Msg("run recorded")

	return nil
}

// ListRuns returns the most recent runs, newest first, including their
// per-target outcomes.
func (c *Catalog) ListRuns(ctx context.Context, limit int) ([]*backup.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, started_at, completed_at, cancelled FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var summaries []*backup.RunSummary
	for rows.Next() {
		summary, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for _, summary := range summaries {
		if err := c.loadOutcomes(ctx, summary); err != nil {
			return nil, err
		}
	}

	return summaries, nil
}

// GetRun returns one run by ID.
func (c *Catalog) GetRun(ctx context.Context, id uuid.UUID) (*backup.RunSummary, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, started_at, completed_at, cancelled FROM runs WHERE id = ?`,
		id.String(),
	)

	summary, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := c.loadOutcomes(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// Prune removes history older than the retention window.
func (c *Catalog) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)

	result, err := c.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if removed > 0 {
		c.logger.Info().Int64("removed", removed).Msg("pruned run history")
	}
	return removed, nil
}

func (c *Catalog) loadOutcomes(ctx context.Context, summary *backup.RunSummary) error {
	rows, err := c.db.QueryContext(ctx,
		`SELECT target_name, category, succeeded, stage, error_detail, artifact_name, size_bytes, deletions_attempted, deletions_failed, duration_ms
		 FROM run_targets WHERE run_id = ? ORDER BY position`,
		summary.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("query run targets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o          backup.TargetOutcome
			category   string
			succeeded  int
			errDetail  sql.NullString
			artifact   sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&o.TargetName, &category, &succeeded, &o.Stage, &errDetail, &artifact, &o.SizeBytes, &o.DeletionsAttempted, &o.DeletionsFailed, &durationMS); err != nil {
			return fmt.Errorf("scan run target: %w", err)
		}
		o.Category = models.Category(category)
		o.Succeeded = succeeded != 0
		o.ErrorDetail = errDetail.String
		o.ArtifactName = artifact.String
		o.Duration = time.Duration(durationMS) * time.Millisecond
		summary.Outcomes = append(summary.Outcomes, o)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*backup.RunSummary, error) {
	var (
		idStr       string
		startedStr  string
		completeStr string
		cancelled   int
	)
	if err := row.Scan(&idStr, &startedStr, &completeStr, &cancelled); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	startedAt, err := time.Parse(time.RFC3339, startedStr)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	completedAt, err := time.Parse(time.RFC3339, completeStr)
	if err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	return &backup.RunSummary{
		ID:          id,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Cancelled:   cancelled != 0,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
