package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BlacklistRepo implementa repository.BlacklistRepository sobre PostgreSQL.
type BlacklistRepo struct {
	pool *pgxpool.Pool
}

func (r *BlacklistRepo) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO token_blacklist (token_id, expires_at) VALUES ($1,$2)
		ON CONFLICT (token_id) DO UPDATE SET expires_at = GREATEST(token_blacklist.expires_at, EXCLUDED.expires_at)`,
		tokenID, expiresAt)
	return err
}

func (r *BlacklistRepo) Contains(ctx context.Context, tokenID string) (bool, error) {
	var found bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM token_blacklist WHERE token_id = $1 AND expires_at > NOW())`,
		tokenID).Scan(&found)
	return found, err
}

func (r *BlacklistRepo) PurgeExpiredBatch(ctx context.Context, now time.Time, limit int) (int, error) {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM token_blacklist WHERE token_id IN (
			SELECT token_id FROM token_blacklist WHERE expires_at <= $1 LIMIT $2)`,
		now, limit)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}
