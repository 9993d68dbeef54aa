package repository

import (
	"context"
	"time"
)

// User es la vista mínima del usuario que necesita el core de autenticación.
// El perfil clínico del paciente vive fuera de este módulo.
type User struct {
	ID            string
	Email         string
	PasswordHash  *string
	EmailVerified bool
	DisabledAt    *time.Time
	CreatedAt     time.Time

	// Patrón horario histórico de login (horas UTC 0-23 con actividad).
	// Alimenta el factor de anomalía de comportamiento.
	TypicalLoginHours []int
}

// UserRepository define el lookup de usuarios por identificador.
type UserRepository interface {
	// GetByEmail busca un usuario por email normalizado.
	// Retorna ErrNotFound si no existe.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID busca un usuario por ID.
	GetByID(ctx context.Context, id string) (*User, error)

	// CheckPassword verifica un password contra el hash almacenado.
	CheckPassword(hash *string, password string) bool

	// RecordLoginHour registra la hora (UTC) de un login exitoso para el
	// perfil de comportamiento del usuario.
	RecordLoginHour(ctx context.Context, userID string, hour int) error
}
