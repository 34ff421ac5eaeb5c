package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rsharma-dev/wabulk/internal/model"
)

type PostgresMessageLog struct {
	db *sql.DB
}

func NewPostgresMessageLog(db *sql.DB) *PostgresMessageLog {
	return &PostgresMessageLog{db: db}
}

func (l *PostgresMessageLog) Append(ctx context.Context, e model.MessageLogEntry) (int64, error) {
	var id int64
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO message_log
			(customer_name, number, direction, template_name, text, content_type,
			 provider_message_id, status, job_id, media_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING id
	`,
		e.CustomerName,
		string(e.Number),
		string(e.Direction),
		e.TemplateName,
		e.Text,
		e.ContentType,
		e.ProviderMessageID,
		string(e.Status),
		e.JobID,
		e.MediaPath,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append message log: %w", err)
	}
	return id, nil
}

// AttachMedia records the stored media path for an entry. The media_path IS
// NULL guard makes the mutation safe to apply at most once.
func (l *PostgresMessageLog) AttachMedia(ctx context.Context, entryID int64, path string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE message_log
		SET media_path = $2
		WHERE id = $1 AND media_path IS NULL
	`, entryID, path)
	if err != nil {
		return fmt.Errorf("attach media: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("attach media: entry %d missing or already has media", entryID)
	}
	return nil
}

func (l *PostgresMessageLog) UpdateStatus(ctx context.Context, providerMessageID string, status model.MessageStatus) error {
	if providerMessageID == "" {
		return nil
	}
	_, err := l.db.ExecContext(ctx, `
		UPDATE message_log
		SET status = $2
		WHERE provider_message_id = $1 AND direction = 'sent'
	`, providerMessageID, string(status))
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

func (l *PostgresMessageLog) ByNumber(ctx context.Context, n model.CanonicalNumber) ([]model.MessageLogEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, customer_name, number, direction, template_name, text, content_type,
		       provider_message_id, status, job_id, media_path, created_at
		FROM message_log
		WHERE number = $1
		ORDER BY id ASC
	`, string(n))
	if err != nil {
		return nil, fmt.Errorf("query by number: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (l *PostgresMessageLog) ByJob(ctx context.Context, jobID string, direction model.Direction) ([]model.MessageLogEntry, error) {
	query := `
		SELECT id, customer_name, number, direction, template_name, text, content_type,
		       provider_message_id, status, job_id, media_path, created_at
		FROM message_log
		WHERE job_id = $1`
	args := []any{jobID}
	if direction != "" {
		query += ` AND direction = $2`
		args = append(args, string(direction))
	}
	query += ` ORDER BY id ASC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query by job: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]model.MessageLogEntry, error) {
	var out []model.MessageLogEntry
	for rows.Next() {
		var (
			e         model.MessageLogEntry
			number    string
			direction string
			status    string
			jobID     sql.NullString
			mediaPath sql.NullString
		)
		if err := rows.Scan(
			&e.ID,
			&e.CustomerName,
			&number,
			&direction,
			&e.TemplateName,
			&e.Text,
			&e.ContentType,
			&e.ProviderMessageID,
			&status,
			&jobID,
			&mediaPath,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message log entry: %w", err)
		}

		e.Number = model.CanonicalNumber(number)
		e.Direction = model.Direction(direction)
		e.Status = model.MessageStatus(status)
		if jobID.Valid {
			s := jobID.String
			e.JobID = &s
		}
		if mediaPath.Valid {
			s := mediaPath.String
			e.MediaPath = &s
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
