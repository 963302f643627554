package notifier

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusconf/backend/internal/models"
)

// Repository records notification attempts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an email log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Log inserts an attempt row.
func (r *Repository) Log(ctx context.Context, e *models.EmailLog) error {
	const q = `INSERT INTO email_logs (recording_id, recipient_email, subject, status, sent_at, error_message)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''))
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, e.RecordingID, e.RecipientEmail, e.Subject, e.Status, e.SentAt, e.ErrorMessage).
		Scan(&e.ID, &e.CreatedAt)
}

// ListByRecording returns the attempts logged for one recording, newest first.
func (r *Repository) ListByRecording(ctx context.Context, recordingID int64) ([]*models.EmailLog, error) {
	const q = `SELECT id, recording_id, recipient_email, COALESCE(subject,''), status, sent_at,
			COALESCE(error_message,''), created_at
		FROM email_logs WHERE recording_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, recordingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.EmailLog
	for rows.Next() {
		var e models.EmailLog
		var sentAt *time.Time
		if err := rows.Scan(&e.ID, &e.RecordingID, &e.RecipientEmail, &e.Subject, &e.Status,
			&sentAt, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SentAt = sentAt
		out = append(out, &e)
	}
	return out, rows.Err()
}
