package session

import (
	"time"

	"github.com/medvault/authcore/internal/domain/types"
)

// ProfilePolicy define los tiempos de vida de una sesión según su perfil.
type ProfilePolicy struct {
	// AccessTTL: vigencia del access token emitido.
	AccessTTL time.Duration `yaml:"access_ttl"`
	// IdleTTL: expiración por inactividad.
	IdleTTL time.Duration `yaml:"idle_ttl"`
	// AbsoluteTTL: tope duro de vida de la sesión sin importar renovaciones.
	AbsoluteTTL time.Duration `yaml:"absolute_ttl"`
	// RenewalWindow: cuánto antes del idle-expiry se permite renovar.
	RenewalWindow time.Duration `yaml:"renewal_window"`
}

// DefaultPolicies son las políticas de referencia por perfil. Las sesiones
// de admin son deliberadamente cortas; las de mobile toleran más inactividad.
func DefaultPolicies() map[types.SessionProfile]ProfilePolicy {
	return map[types.SessionProfile]ProfilePolicy{
		types.SessionWeb: {
			AccessTTL:     15 * time.Minute,
			IdleTTL:       30 * time.Minute,
			AbsoluteTTL:   12 * time.Hour,
			RenewalWindow: 10 * time.Minute,
		},
		types.SessionMobile: {
			AccessTTL:     15 * time.Minute,
			IdleTTL:       7 * 24 * time.Hour,
			AbsoluteTTL:   30 * 24 * time.Hour,
			RenewalWindow: 24 * time.Hour,
		},
		types.SessionAPI: {
			AccessTTL:     10 * time.Minute,
			IdleTTL:       time.Hour,
			AbsoluteTTL:   24 * time.Hour,
			RenewalWindow: 15 * time.Minute,
		},
		types.SessionAdmin: {
			AccessTTL:     5 * time.Minute,
			IdleTTL:       15 * time.Minute,
			AbsoluteTTL:   4 * time.Hour,
			RenewalWindow: 5 * time.Minute,
		},
	}
}

// clampIdle garantiza idle_expiry <= absolute_expiry.
func clampIdle(idle, absolute time.Time) time.Time {
	if idle.After(absolute) {
		return absolute
	}
	return idle
}
