package pg

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/security/password"
)

// UserRepo implementa repository.UserRepository sobre PostgreSQL.
type UserRepo struct {
	pool *pgxpool.Pool
}

const userCols = `id, email, password_hash, email_verified, disabled_at, created_at, typical_login_hours`

func scanUser(row pgx.Row) (*repository.User, error) {
	var u repository.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.EmailVerified,
		&u.DisabledAt, &u.CreatedAt, &u.TypicalLoginHours)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE email = LOWER(TRIM($1))`, email))
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*repository.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *UserRepo) CheckPassword(hash *string, plain string) bool {
	if hash == nil || *hash == "" {
		return false
	}
	return password.Verify(plain, *hash)
}

func (r *UserRepo) RecordLoginHour(ctx context.Context, userID string, hour int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET typical_login_hours = (
			SELECT ARRAY(SELECT DISTINCT unnest(typical_login_hours || $2::int) ORDER BY 1))
		WHERE id = $1`, userID, hour)
	return err
}
