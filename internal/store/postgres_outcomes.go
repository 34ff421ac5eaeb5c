package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rsharma-dev/wabulk/internal/model"
)

type PostgresOutcomeStore struct {
	db *sql.DB
}

func NewPostgresOutcomeStore(db *sql.DB) *PostgresOutcomeStore {
	return &PostgresOutcomeStore{db: db}
}

func (s *PostgresOutcomeStore) Record(ctx context.Context, o model.Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_outcomes
			(job_id, row_index, name, raw_number, number, status, provider_message_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`,
		o.JobID,
		o.RowIndex,
		o.Name,
		o.RawNumber,
		string(o.Number),
		string(o.Status),
		o.ProviderMessageID,
		o.Reason,
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func (s *PostgresOutcomeStore) ByJob(ctx context.Context, jobID string) ([]model.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, row_index, name, raw_number, number, status, provider_message_id, reason, created_at
		FROM job_outcomes
		WHERE job_id = $1
		ORDER BY row_index ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		var (
			o      model.Outcome
			number string
			status string
		)
		if err := rows.Scan(
			&o.JobID,
			&o.RowIndex,
			&o.Name,
			&o.RawNumber,
			&number,
			&status,
			&o.ProviderMessageID,
			&o.Reason,
			&o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Number = model.CanonicalNumber(number)
		o.Status = model.OutcomeStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}
