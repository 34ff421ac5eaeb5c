package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rsharma-dev/wabulk/internal/model"
)

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (s *PostgresJobStore) Create(ctx context.Context, job model.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, template_name, total, sent_count, failed_count, status, source_file, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $5, now(), now())
	`, job.ID, job.TemplateName, job.Total, string(model.JobPending), job.SourceFile)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (model.Job, error) {
	var (
		j       model.Job
		status  string
		lastErr sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, template_name, total, sent_count, failed_count, status, source_file, last_error, created_at
		FROM jobs
		WHERE id = $1
	`, id).Scan(
		&j.ID,
		&j.TemplateName,
		&j.Total,
		&j.SentCount,
		&j.FailedCount,
		&status,
		&j.SourceFile,
		&lastErr,
		&j.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, ErrNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("get job: %w", err)
	}

	j.Status = model.JobStatus(status)
	if lastErr.Valid {
		s := lastErr.String
		j.LastError = &s
	}
	return j, nil
}

func (s *PostgresJobStore) MarkRunning(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) IncrementSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET sent_count = sent_count + 1, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id)
	if err != nil {
		return fmt.Errorf("increment sent: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) IncrementFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET failed_count = failed_count + 1, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id)
	if err != nil {
		return fmt.Errorf("increment failed: %w", err)
	}
	return nil
}
