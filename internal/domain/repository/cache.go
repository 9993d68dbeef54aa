package repository

import (
	"context"
	"time"
)

// CacheRepository define un contrato para almacenamiento efímero con TTL.
// Usado para sesiones de setup MFA, challenge tokens y códigos SMS.
type CacheRepository interface {
	// Get obtiene un valor. Retorna nil, false si no existe o expiró.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set almacena un valor con TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete elimina una clave.
	Delete(ctx context.Context, key string) error

	// GetAndDelete obtiene y elimina atómicamente (one-time tokens).
	GetAndDelete(ctx context.Context, key string) ([]byte, bool, error)

	// Ping verifica conexión al backend.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// ─── Key Prefixes (constantes estándar) ───
const (
	CacheKeyPrefixMFAChallenge = "mfa:token:" // challenge de MFA post-password
	CacheKeyPrefixMFASetup     = "mfa:setup:" // sesiones de enrolamiento
	CacheKeyPrefixSMSCode      = "mfa:sms:"   // códigos SMS emitidos
	CacheKeyPrefixRateLimit    = "rl:"        // rate limiting
)
