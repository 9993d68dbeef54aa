package repository

import (
	"context"
	"time"
)

// BlacklistRepository trackea identificadores de token (jti o hash de refresh)
// revocados hasta su expiración natural.
type BlacklistRepository interface {
	// Add agrega un identificador con su expiración natural.
	Add(ctx context.Context, tokenID string, expiresAt time.Time) error

	// Contains verifica membresía. Entradas vencidas cuentan como ausentes.
	Contains(ctx context.Context, tokenID string) (bool, error)

	// PurgeExpiredBatch elimina hasta limit entradas ya vencidas.
	PurgeExpiredBatch(ctx context.Context, now time.Time, limit int) (int, error)
}
