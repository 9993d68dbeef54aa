package repository

import (
	"context"
	"time"
)

// LoginAttempt es el registro de auditoría de un intento de autenticación.
type LoginAttempt struct {
	ID         string
	Identifier string // email normalizado (puede no existir como usuario)
	SourceIP   string
	UserAgent  string
	Success    bool
	Reason     string
	At         time.Time

	// Geolocalización aproximada derivada de la IP, si se resolvió.
	// El último intento exitoso alimenta la detección de viaje imposible.
	Latitude  *float64
	Longitude *float64
}

// AttemptRepository persiste intentos de login para lockout y scoring.
type AttemptRepository interface {
	// Record registra un intento.
	Record(ctx context.Context, a LoginAttempt) error

	// CountFailedBySource cuenta fallos desde una IP dentro de la ventana.
	CountFailedBySource(ctx context.Context, sourceIP string, since time.Time) (int, error)

	// CountFailedByIdentifier cuenta fallos de un identificador dentro de la ventana.
	CountFailedByIdentifier(ctx context.Context, identifier string, since time.Time) (int, error)

	// LastFailure retorna el timestamp del último fallo del identificador.
	// Retorna zero time si no hay fallos registrados.
	LastFailure(ctx context.Context, identifier string) (time.Time, error)

	// LastSuccess retorna el último intento exitoso del identificador,
	// o ErrNotFound si nunca tuvo uno.
	LastSuccess(ctx context.Context, identifier string) (*LoginAttempt, error)

	// ClearFailures borra los fallos acumulados de un identificador
	// (tras un login exitoso o unlock).
	ClearFailures(ctx context.Context, identifier string) error

	// DeleteOlderThan purga registros anteriores a cutoff en lotes acotados.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
