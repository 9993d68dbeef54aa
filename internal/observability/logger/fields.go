package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - AUTENTICACIÓN
// =================================================================================

// UserID crea un campo para el ID del usuario.
func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

// Identifier crea un campo para el identificador reclamado (email normalizado).
// Usar con cuidado en prod.
func Identifier(v string) zap.Field {
	return zap.String("identifier", v)
}

// SessionID crea un campo para el ID de sesión.
func SessionID(v string) zap.Field {
	return zap.String("session_id", v)
}

// DeviceID crea un campo para el ID del dispositivo.
func DeviceID(v string) zap.Field {
	return zap.String("device_id", v)
}

// Fingerprint crea un campo para el fingerprint del dispositivo (hash, no PII).
func Fingerprint(v string) zap.Field {
	return zap.String("fingerprint", v)
}

// RiskLevel crea un campo para el nivel de riesgo calculado.
func RiskLevel(v string) zap.Field {
	return zap.String("risk_level", v)
}

// RiskScore crea un campo para el score numérico de riesgo.
func RiskScore(v float64) zap.Field {
	return zap.Float64("risk_score", v)
}

// MFAMethod crea un campo para el método MFA (totp, sms, backup, webauthn).
func MFAMethod(v string) zap.Field {
	return zap.String("mfa_method", v)
}

// Reason crea un campo para la razón de invalidación/rechazo.
func Reason(v string) zap.Field {
	return zap.String("reason", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - RED
// =================================================================================

// ClientIP crea un campo para la IP de origen.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// UserAgent crea un campo para el User-Agent.
func UserAgent(v string) zap.Field {
	return zap.String("user_agent", v)
}

// RuleName crea un campo para el nombre de una regla de bypass.
func RuleName(v string) zap.Field {
	return zap.String("rule", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer crea un campo para la capa (flow, service, repository).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - DATOS
// =================================================================================

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Key crea un campo genérico para una clave.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}
