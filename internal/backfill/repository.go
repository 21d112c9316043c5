package backfill

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fortuna/rapm/internal/store"
)

const jobColumns = `run_id, run_type, season, game_ids, fail_on_anomaly,
	status, status_message, progress_current, progress_total,
	rows_written, bad_games, failed_games, last_error,
	created_at, updated_at, started_at, completed_at`

// Repository handles persistence for runs.
type Repository struct {
	db *store.Database
}

// NewRepository constructs a Repository.
func NewRepository(db *store.Database) *Repository {
	return &Repository{db: db}
}

// CreateJob inserts a new run row and returns the stored record.
func (r *Repository) CreateJob(ctx context.Context, job *Job) (*Job, error) {
	query := `
		INSERT INTO rapm_runs (
			run_id, run_type, season, game_ids, fail_on_anomaly,
			status, status_message, progress_current, progress_total
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING ` + jobColumns

	stored := &Job{}
	err := r.db.DB().QueryRowxContext(ctx, query,
		job.JobID, job.JobType, job.Season, job.GameIDs, job.FailOnAnomaly,
		job.Status, job.StatusMessage, job.ProgressCurrent, job.ProgressTotal,
	).StructScan(stored)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return stored, nil
}

// UpdateStatus updates status, message and optional error.
func (r *Repository) UpdateStatus(ctx context.Context, jobID string, status JobStatus, message string, lastErr error) error {
	query := `
		UPDATE rapm_runs
		SET status = $2::varchar,
			status_message = $3,
			last_error = $4,
			updated_at = NOW(),
			completed_at = CASE WHEN $2::varchar IN ('completed','failed','cancelled') THEN NOW() ELSE completed_at END
		WHERE run_id = $1
	`

	var errText sql.NullString
	if lastErr != nil {
		errText = sql.NullString{String: lastErr.Error(), Valid: true}
	}

	if _, err := r.db.DB().ExecContext(ctx, query, jobID, string(status), message, errText); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// UpdateProgress updates the progress counters and message.
func (r *Repository) UpdateProgress(ctx context.Context, jobID string, current, total int, message string) error {
	query := `
		UPDATE rapm_runs
		SET progress_current = $2,
			progress_total = $3,
			status_message = $4,
			updated_at = NOW()
		WHERE run_id = $1
	`

	if _, err := r.db.DB().ExecContext(ctx, query, jobID, current, total, message); err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

// RecordTotals stores the row and game counts of a finished run.
func (r *Repository) RecordTotals(ctx context.Context, jobID string, rows, badGames, failed int) error {
	query := `
		UPDATE rapm_runs
		SET rows_written = $2,
			bad_games = $3,
			failed_games = $4,
			updated_at = NOW()
		WHERE run_id = $1
	`

	if _, err := r.db.DB().ExecContext(ctx, query, jobID, rows, badGames, failed); err != nil {
		return fmt.Errorf("record run totals: %w", err)
	}
	return nil
}

// ResetStuckJobs moves running jobs back to queued (used during service restarts).
func (r *Repository) ResetStuckJobs(ctx context.Context) error {
	_, err := r.db.DB().ExecContext(ctx, `
		UPDATE rapm_runs
		SET status = 'queued',
			status_message = 'Reset after service restart',
			updated_at = NOW()
		WHERE status = 'running'
	`)
	if err != nil {
		return fmt.Errorf("reset stuck runs: %w", err)
	}
	return nil
}

// MarkNextJobRunning atomically claims the next queued run.
func (r *Repository) MarkNextJobRunning(ctx context.Context) (*Job, error) {
	query := `
		WITH next_run AS (
			SELECT run_id
			FROM rapm_runs
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE rapm_runs
		SET status = 'running',
			status_message = 'Starting run...',
			started_at = COALESCE(started_at, NOW()),
			updated_at = NOW()
		FROM next_run
		WHERE rapm_runs.run_id = next_run.run_id
		RETURNING rapm_runs.*
	`

	job := &Job{}
	err := r.db.DB().QueryRowxContext(ctx, query).StructScan(job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	return job, nil
}

// GetActiveJob returns the currently running job, if any.
func (r *Repository) GetActiveJob(ctx context.Context) (*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM rapm_runs
		WHERE status = 'running'
		ORDER BY started_at DESC
		LIMIT 1
	`

	job := &Job{}
	err := r.db.DB().GetContext(ctx, job, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active run: %w", err)
	}
	return job, nil
}

// ListRecentJobs returns the most recently created runs.
func (r *Repository) ListRecentJobs(ctx context.Context, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM rapm_runs
		ORDER BY created_at DESC
		LIMIT $1
	`

	var jobs []*Job
	if err := r.db.DB().SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	return jobs, nil
}
