package pg

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/authcore/internal/domain/repository"
)

// DeviceRepo implementa repository.DeviceRepository sobre PostgreSQL.
type DeviceRepo struct {
	pool *pgxpool.Pool
}

const deviceCols = `id, user_id, fingerprint, name, type, platform, browser,
	trusted, trust_granted_at, trust_expires_at, first_seen_at, last_seen_at, login_count`

func scanDevice(row pgx.Row) (*repository.Device, error) {
	var d repository.Device
	err := row.Scan(
		&d.ID, &d.UserID, &d.Fingerprint, &d.Name, &d.Type, &d.Platform, &d.Browser,
		&d.Trusted, &d.TrustGrantedAt, &d.TrustExpiresAt,
		&d.FirstSeenAt, &d.LastSeenAt, &d.LoginCount,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

func (r *DeviceRepo) Create(ctx context.Context, in repository.CreateDeviceInput) (*repository.Device, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO devices (id, user_id, fingerprint, name, type, platform, browser,
			trusted, first_seen_at, last_seen_at, login_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,NOW(),NOW(),1)
		RETURNING `+deviceCols,
		uuid.NewString(), in.UserID, in.Fingerprint, in.Name, in.Type, in.Platform, in.Browser,
	)
	return scanDevice(row)
}

func (r *DeviceRepo) GetByFingerprint(ctx context.Context, userID, fingerprint string) (*repository.Device, error) {
	return scanDevice(r.pool.QueryRow(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint))
}

func (r *DeviceRepo) GetByID(ctx context.Context, id string) (*repository.Device, error) {
	return scanDevice(r.pool.QueryRow(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE id = $1`, id))
}

func (r *DeviceRepo) ListByUser(ctx context.Context, userID string) ([]repository.Device, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE user_id = $1 ORDER BY last_seen_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *DeviceRepo) CountTrusted(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM devices
		WHERE user_id = $1 AND trusted
		  AND (trust_expires_at IS NULL OR trust_expires_at > $2)`,
		userID, now).Scan(&n)
	return n, err
}

func (r *DeviceRepo) TouchSeen(ctx context.Context, id string, seenAt time.Time) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE devices SET last_seen_at = $2, login_count = login_count + 1
		WHERE id = $1`, id, seenAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *DeviceRepo) SetTrust(ctx context.Context, id string, trusted bool, grantedAt, expiresAt *time.Time) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE devices SET trusted = $2, trust_granted_at = $3, trust_expires_at = $4
		WHERE id = $1`, id, trusted, grantedAt, expiresAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *DeviceRepo) Delete(ctx context.Context, id string) error {
	var active int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE device_id = $1 AND active`, id,
	).Scan(&active); err != nil {
		return err
	}
	if active > 0 {
		return repository.ErrConflict
	}
	ct, err := r.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
