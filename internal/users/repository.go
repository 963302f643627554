package users

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusconf/backend/internal/models"
)

// Repository handles webex_users persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a webex users repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, platform_user, email, first_name, last_name, webex_id, password_enc, manual, created_at, updated_at`

func scanUser(row pgx.Row) (*models.WebexUser, error) {
	var u models.WebexUser
	err := row.Scan(&u.ID, &u.PlatformUser, &u.Email, &u.FirstName, &u.LastName,
		&u.WebexID, &u.PasswordEnc, &u.Manual, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetByPlatformUser returns the mapping for a host LMS user, or nil.
func (r *Repository) GetByPlatformUser(ctx context.Context, platformUser string) (*models.WebexUser, error) {
	const q = `SELECT ` + userColumns + ` FROM webex_users WHERE platform_user = $1`
	return scanUser(r.pool.QueryRow(ctx, q, platformUser))
}

// GetByWebexID returns the mapping for a remote username, or nil.
func (r *Repository) GetByWebexID(ctx context.Context, webexID string) (*models.WebexUser, error) {
	const q = `SELECT ` + userColumns + ` FROM webex_users WHERE webex_id = $1`
	return scanUser(r.pool.QueryRow(ctx, q, webexID))
}

// Create inserts a new mapping.
func (r *Repository) Create(ctx context.Context, u *models.WebexUser) error {
	const q = `INSERT INTO webex_users (platform_user, email, first_name, last_name, webex_id, password_enc, manual)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, u.PlatformUser, u.Email, u.FirstName, u.LastName, u.WebexID, u.PasswordEnc, u.Manual).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

// UpdatePassword stores a new encrypted remote password.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, enc []byte) error {
	const q = `UPDATE webex_users SET password_enc = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, enc, id)
	return err
}
