package repository

import (
	"context"
	"time"
)

// Device representa un dispositivo reconocido de un usuario.
type Device struct {
	ID          string
	UserID      string
	Fingerprint string

	// Metadata legible
	Name     string
	Type     string // desktop, mobile, tablet, unknown
	Platform string
	Browser  string

	// Confianza
	Trusted        bool
	TrustGrantedAt *time.Time
	TrustExpiresAt *time.Time

	FirstSeenAt time.Time
	LastSeenAt  time.Time
	LoginCount  int
}

// CreateDeviceInput contiene los datos para registrar un dispositivo nuevo.
type CreateDeviceInput struct {
	UserID      string
	Fingerprint string
	Name        string
	Type        string
	Platform    string
	Browser     string
}

// DeviceRepository define operaciones sobre dispositivos.
type DeviceRepository interface {
	// Create registra un dispositivo nuevo (no confiable).
	Create(ctx context.Context, input CreateDeviceInput) (*Device, error)

	// GetByFingerprint busca el dispositivo de un usuario por fingerprint.
	// Retorna ErrNotFound si no existe.
	GetByFingerprint(ctx context.Context, userID, fingerprint string) (*Device, error)

	// GetByID busca un dispositivo por ID.
	GetByID(ctx context.Context, id string) (*Device, error)

	// ListByUser retorna todos los dispositivos de un usuario.
	ListByUser(ctx context.Context, userID string) ([]Device, error)

	// CountTrusted cuenta los dispositivos actualmente confiables de un usuario.
	CountTrusted(ctx context.Context, userID string, now time.Time) (int, error)

	// TouchSeen actualiza last_seen e incrementa login_count.
	TouchSeen(ctx context.Context, id string, seenAt time.Time) error

	// SetTrust actualiza el estado de confianza del dispositivo.
	// grantedAt/expiresAt en nil revocan la confianza.
	SetTrust(ctx context.Context, id string, trusted bool, grantedAt, expiresAt *time.Time) error

	// Delete elimina un dispositivo. Falla con ErrConflict si hay sesiones
	// activas que lo referencian.
	Delete(ctx context.Context, id string) error
}
