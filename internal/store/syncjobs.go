package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"guestlist/internal/guest"
)

// CreateSyncJob records a new pending batch job and returns its id.
func (s *Store) CreateSyncJob(ctx context.Context, jobType string) (*guest.SyncJob, error) {
	job := &guest.SyncJob{
		ID:      uuid.NewString(),
		JobType: jobType,
		Status:  guest.JobPending,
	}

	query := `
		INSERT INTO sync_jobs (id, job_type, status)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	if err := s.db.QueryRowContext(ctx, query, job.ID, job.JobType, job.Status).Scan(&job.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert sync job: %w", err)
	}
	return job, nil
}

// StartSyncJob moves a job into the running state and stamps the start time.
func (s *Store) StartSyncJob(ctx context.Context, id string) error {
	query := `
		UPDATE sync_jobs
		SET status = $1, started_at = NOW()
		WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, guest.JobRunning, id)
	if err != nil {
		return fmt.Errorf("start sync job: %w", err)
	}
	return checkAffected(result)
}

// FinishSyncJob records the terminal state of a job along with its tallies.
// Any accumulated errors ride along; a job with errors but synced records
// still completes.
func (s *Store) FinishSyncJob(ctx context.Context, job *guest.SyncJob) error {
	query := `
		UPDATE sync_jobs
		SET status = $1, venues_processed = $2, records_synced = $3, errors = $4,
			completed_at = NOW()
		WHERE id = $5`

	result, err := s.db.ExecContext(ctx, query,
		job.Status, pq.Array(job.VenuesProcessed), job.RecordsSynced, pq.Array(job.Errors), job.ID,
	)
	if err != nil {
		return fmt.Errorf("finish sync job: %w", err)
	}
	return checkAffected(result)
}

// SyncJob fetches one job by id.
func (s *Store) SyncJob(ctx context.Context, id string) (*guest.SyncJob, error) {
	query := `
		SELECT id, job_type, status, venues_processed, records_synced, errors,
			started_at, completed_at, created_at
		FROM sync_jobs
		WHERE id = $1`

	var (
		job       guest.SyncJob
		started   sql.NullTime
		completed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.JobType, &job.Status,
		pq.Array(&job.VenuesProcessed), &job.RecordsSynced, pq.Array(&job.Errors),
		&started, &completed, &job.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query sync job: %w", err)
	}
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// RecentSyncJobs lists jobs created after the cutoff, newest first.
func (s *Store) RecentSyncJobs(ctx context.Context, since time.Time) ([]guest.SyncJob, error) {
	query := `
		SELECT id, job_type, status, venues_processed, records_synced, errors,
			started_at, completed_at, created_at
		FROM sync_jobs
		WHERE created_at >= $1
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query recent sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []guest.SyncJob
	for rows.Next() {
		var (
			job       guest.SyncJob
			started   sql.NullTime
			completed sql.NullTime
		)
		err := rows.Scan(
			&job.ID, &job.JobType, &job.Status,
			pq.Array(&job.VenuesProcessed), &job.RecordsSynced, pq.Array(&job.Errors),
			&started, &completed, &job.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sync job: %w", err)
		}
		if started.Valid {
			t := started.Time
			job.StartedAt = &t
		}
		if completed.Valid {
			t := completed.Time
			job.CompletedAt = &t
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync jobs: %w", err)
	}
	return jobs, nil
}

func checkAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
