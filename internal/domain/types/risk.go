// Package types define tipos de dominio compartidos entre paquetes.
package types

// RiskLevel clasifica el riesgo de un intento de autenticación.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IsValid retorna true si el nivel es válido.
func (l RiskLevel) IsValid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Rank retorna un orden numérico (low=0 .. critical=3) para comparaciones.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast retorna true si l es igual o más severo que other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// FactorKind identifica una señal de riesgo independiente.
type FactorKind string

const (
	FactorNewDevice        FactorKind = "new_device"
	FactorNewLocation      FactorKind = "new_location"
	FactorImpossibleTravel FactorKind = "impossible_travel"
	FactorSuspiciousTime   FactorKind = "suspicious_time"
	FactorFailedAttempts   FactorKind = "failed_attempts_from_source"
	FactorVPNProxy         FactorKind = "vpn_proxy"
	FactorTorExit          FactorKind = "tor_exit"
	FactorBehavioral       FactorKind = "behavioral_anomaly"
	FactorCredentialBreach FactorKind = "credential_breach"
	FactorBotSignature     FactorKind = "bot_signature"
)

// Action es una acción recomendada por el motor de riesgo.
type Action string

const (
	ActionProceed           Action = "proceed"
	ActionRequireMFA        Action = "require_mfa"
	ActionRequireStrongMFA  Action = "require_strong_mfa"
	ActionNotifyUser        Action = "notify_user"
	ActionExtraVerification Action = "extra_verification"
	ActionBlock             Action = "block"
	ActionManualReview      Action = "manual_review"
)
