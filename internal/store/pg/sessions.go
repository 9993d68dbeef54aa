package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/authcore/internal/domain/repository"
)

// SessionRepo implementa repository.SessionRepository sobre PostgreSQL.
// El linaje de refresh hashes vive en session_refresh_lineage para que un
// hash ya rotado siga resolviendo a su sesión (detección de replay).
type SessionRepo struct {
	pool *pgxpool.Pool
}

const sessionCols = `id, user_id, device_id, access_jti, refresh_hash, profile,
	created_at, idle_expires_at, absolute_expires_at, last_activity_at,
	active, mfa_verified, risk_level, rotation_count, invalidated_reason`

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.DeviceID, &s.AccessJTI, &s.RefreshHash, &s.Profile,
		&s.CreatedAt, &s.IdleExpiresAt, &s.AbsoluteExpiresAt, &s.LastActivityAt,
		&s.Active, &s.MFAVerified, &s.RiskLevel, &s.RotationCount, &s.InvalidatedReason,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (r *SessionRepo) Create(ctx context.Context, in repository.CreateSessionInput) (*repository.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, device_id, access_jti, refresh_hash, profile,
			created_at, idle_expires_at, absolute_expires_at, last_activity_at,
			active, mfa_verified, risk_level, rotation_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$7,TRUE,$10,$11,0)
		RETURNING `+sessionCols,
		in.ID, in.UserID, in.DeviceID, in.AccessJTI, in.RefreshHash, in.Profile,
		in.CreatedAt, in.IdleExpiresAt, in.AbsoluteExpiresAt,
		in.MFAVerified, in.RiskLevel,
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO session_refresh_lineage (refresh_hash, session_id) VALUES ($1,$2)`,
		in.RefreshHash, in.ID,
	); err != nil {
		return nil, mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*repository.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id))
}

func (r *SessionRepo) GetByRefreshHash(ctx context.Context, refreshHash string) (*repository.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionCols+` FROM sessions
		WHERE id = (SELECT session_id FROM session_refresh_lineage WHERE refresh_hash = $1)`,
		refreshHash))
}

func (r *SessionRepo) Update(ctx context.Context, in repository.UpdateSessionInput) (*repository.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE sessions SET
			access_jti       = COALESCE($3, access_jti),
			refresh_hash     = COALESCE($4, refresh_hash),
			idle_expires_at  = COALESCE($5, idle_expires_at),
			last_activity_at = COALESCE($6, last_activity_at),
			rotation_count   = COALESCE($7, rotation_count)
		WHERE id = $1 AND rotation_count = $2
		RETURNING `+sessionCols,
		in.ID, in.ExpectedRotation,
		in.AccessJTI, in.RefreshHash, in.IdleExpiresAt, in.LastActivityAt, in.RotationCount,
	)
	s, err := scanSession(row)
	if err != nil {
		// sin fila: o la sesión no existe o perdió el CAS
		if errors.Is(err, repository.ErrNotFound) {
			var exists bool
			if qerr := r.pool.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, in.ID,
			).Scan(&exists); qerr == nil && exists {
				return nil, repository.ErrStaleUpdate
			}
		}
		return nil, err
	}

	if in.RefreshHash != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_refresh_lineage (refresh_hash, session_id)
			VALUES ($1,$2) ON CONFLICT (refresh_hash) DO NOTHING`,
			*in.RefreshHash, in.ID,
		); err != nil {
			return nil, mapErr(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SessionRepo) Invalidate(ctx context.Context, id, reason string) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE sessions SET active = FALSE, invalidated_reason = $2
		WHERE id = $1`, id, reason)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *SessionRepo) InvalidateAllByUser(ctx context.Context, userID, reason, exceptID string) (int, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE sessions SET active = FALSE, invalidated_reason = $2
		WHERE user_id = $1 AND active AND id <> $3`,
		userID, reason, exceptID)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (r *SessionRepo) ListByUser(ctx context.Context, userID string) ([]repository.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionCols+` FROM sessions
		WHERE user_id = $1
		ORDER BY active DESC, last_activity_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *SessionRepo) CountActiveByDevice(ctx context.Context, deviceID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM sessions WHERE device_id = $1 AND active`,
		deviceID).Scan(&n)
	return n, err
}

func (r *SessionRepo) DeleteExpiredBatch(ctx context.Context, now time.Time, limit int) (int, error) {
	// la FK de session_refresh_lineage es ON DELETE CASCADE
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions
			WHERE NOT active OR absolute_expires_at <= $1
			LIMIT $2)`, now, limit)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}
