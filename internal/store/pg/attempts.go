package pg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/authcore/internal/domain/repository"
)

// AttemptRepo implementa repository.AttemptRepository sobre PostgreSQL.
type AttemptRepo struct {
	pool *pgxpool.Pool
}

func (r *AttemptRepo) Record(ctx context.Context, a repository.LoginAttempt) error {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO login_attempts (id, identifier, source_ip, user_agent, success, reason, at, latitude, longitude)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		id, a.Identifier, a.SourceIP, a.UserAgent, a.Success, a.Reason, a.At, a.Latitude, a.Longitude)
	return err
}

func (r *AttemptRepo) CountFailedBySource(ctx context.Context, sourceIP string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE source_ip = $1 AND NOT success AND at >= $2`,
		sourceIP, since).Scan(&n)
	return n, err
}

func (r *AttemptRepo) CountFailedByIdentifier(ctx context.Context, identifier string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE identifier = $1 AND NOT success AND at >= $2`,
		identifier, since).Scan(&n)
	return n, err
}

func (r *AttemptRepo) LastFailure(ctx context.Context, identifier string) (time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT at FROM login_attempts
		WHERE identifier = $1 AND NOT success
		ORDER BY at DESC LIMIT 1`, identifier).Scan(&at)
	if errors.Is(mapErr(err), repository.ErrNotFound) {
		return time.Time{}, nil
	}
	return at, err
}

func (r *AttemptRepo) LastSuccess(ctx context.Context, identifier string) (*repository.LoginAttempt, error) {
	var a repository.LoginAttempt
	err := r.pool.QueryRow(ctx, `
		SELECT id, identifier, source_ip, user_agent, success, reason, at, latitude, longitude
		FROM login_attempts
		WHERE identifier = $1 AND success
		ORDER BY at DESC LIMIT 1`, identifier).
		Scan(&a.ID, &a.Identifier, &a.SourceIP, &a.UserAgent, &a.Success, &a.Reason, &a.At, &a.Latitude, &a.Longitude)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *AttemptRepo) ClearFailures(ctx context.Context, identifier string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM login_attempts WHERE identifier = $1 AND NOT success`, identifier)
	return err
}

func (r *AttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM login_attempts WHERE id IN (
			SELECT id FROM login_attempts WHERE at < $1 LIMIT $2)`,
		cutoff, limit)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}
