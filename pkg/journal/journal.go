// Package journal persists reconciliation runs and their per-operation
// results to a local sqlite database, so `journal list` and
// `journal show` can answer what a past apply actually did.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/securactl/securactl/pkg/executor"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned for lookups of unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// Journal is the sqlite-backed run ledger.
type Journal struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens (creating if needed) the journal database at path and
// brings its schema up to date.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging journal: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	j := &Journal{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "journal").Logger(),
	}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating journal schema: %w", err)
	}
	return nil
}

// BeginRun opens a new run record and returns it in running state.
func (j *Journal) BeginRun(ctx context.Context, environment string, dryRun bool) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		Environment: environment,
		DryRun:      dryRun,
		Status:      RunRunning,
		StartedAt:   time.Now().UTC(),
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, environment, dry_run, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Environment, run.DryRun, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	j.logger.Debug().Str("run_id", run.ID).Str("environment", environment).Msg("run started")
	return run, nil
}

// Record appends one operation result to the run.
func (j *Journal) Record(ctx context.Context, runID string, res executor.Result) error {
	var changes *string
	if len(res.Changes) > 0 {
		encoded, err := json.Marshal(res.Changes)
		if err != nil {
			return fmt.Errorf("encoding change set: %w", err)
		}
		s := string(encoded)
		changes = &s
	}
	var errMsg *string
	if res.Err != nil {
		s := res.Err.Error()
		errMsg = &s
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO results (id, run_id, resource_type, resource_name, operation,
		                     success, message, error, changes, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), runID, res.ResourceType, res.ResourceName, string(res.Operation),
		res.Success, res.Message, errMsg, changes, res.Duration.Milliseconds(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording result: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished with the given status.
func (j *Journal) CompleteRun(ctx context.Context, runID string, status RunStatus, errMsg string) error {
	var e *string
	if errMsg != "" {
		e = &errMsg
	}
	result, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, e, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun retrieves one run by id.
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	err := j.db.QueryRowContext(ctx, `
		SELECT id, environment, dry_run, status, error, started_at, completed_at
		FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Environment, &run.DryRun, &run.Status, &run.Error,
			&run.StartedAt, &run.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest-first.
func (j *Journal) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, environment, dry_run, status, error, started_at, completed_at
		FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.Environment, &run.DryRun, &run.Status,
			&run.Error, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Results returns the run's recorded results in insertion order.
func (j *Journal) Results(ctx context.Context, runID string) ([]*Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, run_id, resource_type, resource_name, operation,
		       success, message, error, changes, duration_ms, recorded_at
		FROM results WHERE run_id = ? ORDER BY recorded_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.ResourceType, &e.ResourceName,
			&e.Operation, &e.Success, &e.Message, &e.Error, &e.Changes,
			&durationMS, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
