package repository

import (
	"context"
	"time"

	"github.com/medvault/authcore/internal/domain/types"
)

// Session representa una sesión de usuario persistida.
// Los tokens nunca se guardan en claro: solo sus hashes.
type Session struct {
	ID     string
	UserID string

	// DeviceID es nil para sesiones sin dispositivo resuelto (ej: API).
	DeviceID *string

	// AccessJTI es el jti del access token vigente (para blacklist).
	AccessJTI string

	// RefreshHash es sha256(refresh token) en base64url.
	RefreshHash string

	Profile types.SessionProfile

	CreatedAt         time.Time
	IdleExpiresAt     time.Time
	AbsoluteExpiresAt time.Time
	LastActivityAt    time.Time

	Active        bool
	MFAVerified   bool
	RiskLevel     types.RiskLevel
	RotationCount int

	// InvalidatedReason queda seteado al terminar la sesión
	// (logout, idle_timeout, absolute_timeout, replay_detected, ...).
	InvalidatedReason *string
}

// CreateSessionInput contiene los datos para crear una nueva sesión.
type CreateSessionInput struct {
	ID                string
	UserID            string
	DeviceID          *string
	AccessJTI         string
	RefreshHash       string
	Profile           types.SessionProfile
	RiskLevel         types.RiskLevel
	MFAVerified       bool
	CreatedAt         time.Time
	IdleExpiresAt     time.Time
	AbsoluteExpiresAt time.Time
}

// UpdateSessionInput actualiza campos mutables bajo compare-and-swap:
// el update solo aplica si el RotationCount almacenado == ExpectedRotation.
type UpdateSessionInput struct {
	ID               string
	ExpectedRotation int

	AccessJTI      *string
	RefreshHash    *string
	IdleExpiresAt  *time.Time
	LastActivityAt *time.Time
	RotationCount  *int
}

// SessionRepository define operaciones para gestionar sesiones.
type SessionRepository interface {
	// Create crea una nueva sesión.
	Create(ctx context.Context, input CreateSessionInput) (*Session, error)

	// Get obtiene una sesión por ID. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, id string) (*Session, error)

	// GetByRefreshHash busca una sesión por hash del refresh token. El
	// índice incluye los hashes ya rotados de la sesión (su linaje): un
	// hash que resuelve pero no coincide con RefreshHash actual es un
	// refresh token consumido presentándose de nuevo.
	GetByRefreshHash(ctx context.Context, refreshHash string) (*Session, error)

	// Update aplica un update con compare-and-swap sobre RotationCount.
	// Retorna ErrStaleUpdate si otro update concurrente ganó.
	Update(ctx context.Context, input UpdateSessionInput) (*Session, error)

	// Invalidate marca una sesión como inactiva con una razón.
	Invalidate(ctx context.Context, id, reason string) error

	// InvalidateAllByUser invalida todas las sesiones activas de un usuario,
	// opcionalmente exceptuando una. Retorna el número de sesiones invalidadas.
	InvalidateAllByUser(ctx context.Context, userID, reason string, exceptID string) (int, error)

	// ListByUser retorna las sesiones de un usuario (activas primero).
	ListByUser(ctx context.Context, userID string) ([]Session, error)

	// CountActiveByDevice cuenta sesiones activas que referencian un dispositivo.
	CountActiveByDevice(ctx context.Context, deviceID string) (int, error)

	// DeleteExpiredBatch elimina hasta limit sesiones expiradas o inactivas.
	// Retorna el número eliminado; el sweeper la llama en lotes acotados.
	DeleteExpiredBatch(ctx context.Context, now time.Time, limit int) (int, error)
}
