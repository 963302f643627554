package meetings

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusconf/backend/internal/models"
)

// Repository handles meeting persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meetings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const meetingColumns = `id, course, name, description, type, COALESCE(meeting_key,''), COALESCE(guest_key,''),
	COALESCE(event_id,''), COALESCE(host_key,''), COALESCE(creator_user,''), start_time, duration, status,
	COALESCE(last_status_check, 'epoch'::timestamptz), student_download, time_modified`

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	var m models.Meeting
	err := row.Scan(&m.ID, &m.Course, &m.Name, &m.Description, &m.Type, &m.MeetingKey, &m.GuestKey,
		&m.EventID, &m.HostKey, &m.CreatorUser, &m.StartTime, &m.Duration, &m.Status,
		&m.LastStatusCheck, &m.StudentDownload, &m.TimeModified)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// Create inserts a new meeting row.
func (r *Repository) Create(ctx context.Context, m *models.Meeting) error {
	const q = `INSERT INTO meetings (course, name, description, type, meeting_key, guest_key, event_id, host_key,
			creator_user, start_time, duration, status, student_download, time_modified)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), $10, $11, $12, $13, NOW())
		RETURNING id, time_modified`
	return r.pool.QueryRow(ctx, q, m.Course, m.Name, m.Description, m.Type, m.MeetingKey, m.GuestKey,
		m.EventID, m.HostKey, m.CreatorUser, m.StartTime, m.Duration, m.Status, m.StudentDownload).
		Scan(&m.ID, &m.TimeModified)
}

// Update persists all mutable meeting fields.
func (r *Repository) Update(ctx context.Context, m *models.Meeting) error {
	const q = `UPDATE meetings SET course = $1, name = $2, description = $3, type = $4,
			meeting_key = NULLIF($5,''), guest_key = NULLIF($6,''), event_id = NULLIF($7,''), host_key = NULLIF($8,''),
			creator_user = NULLIF($9,''), start_time = $10, duration = $11, status = $12,
			last_status_check = $13, student_download = $14, time_modified = NOW()
		WHERE id = $15
		RETURNING time_modified`
	return r.pool.QueryRow(ctx, q, m.Course, m.Name, m.Description, m.Type, m.MeetingKey, m.GuestKey,
		m.EventID, m.HostKey, m.CreatorUser, m.StartTime, m.Duration, m.Status,
		nullableTime(m.LastStatusCheck), m.StudentDownload, m.ID).
		Scan(&m.TimeModified)
}

// GetByID returns a meeting by id, or nil.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`
	return scanMeeting(r.pool.QueryRow(ctx, q, id))
}

// GetByMeetingKey returns the meeting holding a remote session key, or nil.
func (r *Repository) GetByMeetingKey(ctx context.Context, meetingKey string) (*models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings WHERE meeting_key = $1`
	return scanMeeting(r.pool.QueryRow(ctx, q, meetingKey))
}

// ListByCourse returns all meetings of a course, soonest first.
func (r *Repository) ListByCourse(ctx context.Context, course int64) ([]*models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings WHERE course = $1 ORDER BY start_time`
	return r.list(ctx, q, course)
}

// ListCreatedSince returns meetings that exist remotely and either started
// recently or are flagged in progress. This is the status sweep's working set.
func (r *Repository) ListCreatedSince(ctx context.Context, since time.Time) ([]*models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings
		WHERE meeting_key IS NOT NULL AND (start_time >= $1 OR status = 'in_progress')
		ORDER BY start_time`
	return r.list(ctx, q, since)
}

// Delete removes the meeting row.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	return err
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]*models.Meeting, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() || t.Unix() == 0 {
		return nil
	}
	return &t
}
