package types

// SessionProfile selecciona el perfil de expiración de una sesión.
// Cada perfil tiene idle/absolute TTL y ventana de renovación propios.
type SessionProfile string

const (
	SessionWeb    SessionProfile = "web"
	SessionMobile SessionProfile = "mobile"
	SessionAPI    SessionProfile = "api"
	SessionAdmin  SessionProfile = "admin"
)

// IsValid retorna true si el perfil es válido.
func (p SessionProfile) IsValid() bool {
	switch p {
	case SessionWeb, SessionMobile, SessionAPI, SessionAdmin:
		return true
	}
	return false
}
