package recordings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusconf/backend/internal/models"
)

// Repository handles recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordingColumns = `id, meeting_id, meeting_key, recording_id, COALESCE(host_id,''), name, time_created,
	COALESCE(stream_url,''), COALESCE(file_url,''), file_size, duration, visible, deleted, file_status,
	COALESCE(storage_key,''), unique_id, additional, time_modified, notified, remote_server`

// Same list qualified with the alias the filtered listing joins under.
const recordingColumnsAliased = `r.id, r.meeting_id, r.meeting_key, r.recording_id, COALESCE(r.host_id,''), r.name,
	r.time_created, COALESCE(r.stream_url,''), COALESCE(r.file_url,''), r.file_size, r.duration, r.visible,
	r.deleted, r.file_status, COALESCE(r.storage_key,''), r.unique_id, r.additional, r.time_modified,
	r.notified, r.remote_server`

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.MeetingID, &rec.MeetingKey, &rec.RecordingID, &rec.HostID, &rec.Name,
		&rec.TimeCreated, &rec.StreamURL, &rec.FileURL, &rec.FileSize, &rec.Duration, &rec.StoredVisib,
		&rec.Deleted, &rec.FileStatus, &rec.StorageKey, &rec.UniqueID, &rec.Additional, &rec.TimeModified,
		&rec.Notified, &rec.RemoteServer)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Create inserts a recording row. The provider identifier is unique, so a
// second insert for the same artifact is a no-op; the bool reports whether a
// row was actually written.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) (bool, error) {
	if rec.Additional == nil {
		rec.Additional = map[string]string{}
	}
	const q = `INSERT INTO recordings (meeting_id, meeting_key, recording_id, host_id, name, time_created,
			stream_url, file_url, file_size, duration, visible, file_status, additional, remote_server)
		VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, NULLIF($7,''), NULLIF($8,''), $9, $10, $11, $12, $13, $14)
		ON CONFLICT (recording_id) DO NOTHING
		RETURNING id, unique_id, time_modified`
	err := r.pool.QueryRow(ctx, q, rec.MeetingID, rec.MeetingKey, rec.RecordingID, rec.HostID, rec.Name,
		rec.TimeCreated, rec.StreamURL, rec.FileURL, rec.FileSize, rec.Duration, rec.StoredVisib,
		rec.FileStatus, rec.Additional, rec.RemoteServer).
		Scan(&rec.ID, &rec.UniqueID, &rec.TimeModified)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Update persists all mutable recording fields.
func (r *Repository) Update(ctx context.Context, rec *models.Recording) error {
	if rec.Additional == nil {
		rec.Additional = map[string]string{}
	}
	const q = `UPDATE recordings SET meeting_id = $1, meeting_key = $2, host_id = NULLIF($3,''), name = $4,
			stream_url = NULLIF($5,''), file_url = NULLIF($6,''), file_size = $7, duration = $8,
			visible = $9, deleted = $10, file_status = $11, storage_key = NULLIF($12,''),
			additional = $13, notified = $14, remote_server = $15, time_modified = NOW()
		WHERE id = $16
		RETURNING time_modified`
	return r.pool.QueryRow(ctx, q, rec.MeetingID, rec.MeetingKey, rec.HostID, rec.Name,
		rec.StreamURL, rec.FileURL, rec.FileSize, rec.Duration, rec.StoredVisib, rec.Deleted,
		rec.FileStatus, rec.StorageKey, rec.Additional, rec.Notified, rec.RemoteServer, rec.ID).
		Scan(&rec.TimeModified)
}

// GetByID returns a recording by id, or nil.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings WHERE id = $1`
	return scanRecording(r.pool.QueryRow(ctx, q, id))
}

// GetByRecordingID returns the recording holding a provider identifier, or nil.
func (r *Repository) GetByRecordingID(ctx context.Context, recordingID string) (*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings WHERE recording_id = $1`
	return scanRecording(r.pool.QueryRow(ctx, q, recordingID))
}

// ListByMeeting returns a meeting's recordings, including soft-deleted ones.
func (r *Repository) ListByMeeting(ctx context.Context, meetingID int64) ([]*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings WHERE meeting_id = $1 ORDER BY time_created`
	return r.list(ctx, q, meetingID)
}

// ListDeletedBefore returns soft-deleted recordings whose trash hold expired
// at the cutoff.
func (r *Repository) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings WHERE deleted IS NOT NULL AND deleted < $1
		ORDER BY deleted`
	return r.list(ctx, q, cutoff)
}

// Filter narrows the admin recording listing. Nil fields are skipped.
type Filter struct {
	From       *time.Time
	To         *time.Time
	HostID     string
	Course     *int64
	FileStatus string
	Deleted    *bool // true: only trashed, false: only live
}

// ListFiltered returns recordings matching the filter, newest first. The
// course filter joins through the owning meeting.
func (r *Repository) ListFiltered(ctx context.Context, f Filter) ([]*models.Recording, error) {
	q := `SELECT ` + recordingColumnsAliased + ` FROM recordings r`
	var args []any
	var where []string
	if f.Course != nil {
		q += ` JOIN meetings m ON m.id = r.meeting_id`
		args = append(args, *f.Course)
		where = append(where, fmt.Sprintf("m.course = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("r.time_created >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("r.time_created <= $%d", len(args)))
	}
	if f.HostID != "" {
		args = append(args, f.HostID)
		where = append(where, fmt.Sprintf("r.host_id = $%d", len(args)))
	}
	if f.FileStatus != "" {
		args = append(args, f.FileStatus)
		where = append(where, fmt.Sprintf("r.file_status = $%d", len(args)))
	}
	if f.Deleted != nil {
		if *f.Deleted {
			where = append(where, "r.deleted IS NOT NULL")
		} else {
			where = append(where, "r.deleted IS NULL")
		}
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY r.time_created DESC"
	return r.list(ctx, q, args...)
}

// Delete removes the recording row.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	return err
}

// ListRemoteServers returns every federated deployment this install knows.
func (r *Repository) ListRemoteServers(ctx context.Context) ([]*models.RemoteServer, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, key_prefix, created_at FROM remote_servers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.RemoteServer
	for rows.Next() {
		var s models.RemoteServer
		if err := rows.Scan(&s.ID, &s.Name, &s.KeyPrefix, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]*models.Recording, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
