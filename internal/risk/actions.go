package risk

import "github.com/medvault/authcore/internal/domain/types"

// ActionsFor es la política que mapea nivel a acciones. Función pura del nivel:
//
//	low      -> proceder
//	medium   -> MFA estándar + notificar al usuario
//	high     -> MFA fuerte (TOTP/WebAuthn) + verificación extra de identidad
//	critical -> bloquear y derivar a revisión manual
func ActionsFor(level types.RiskLevel) []types.Action {
	switch level {
	case types.RiskCritical:
		return []types.Action{types.ActionBlock, types.ActionManualReview}
	case types.RiskHigh:
		return []types.Action{types.ActionRequireStrongMFA, types.ActionExtraVerification, types.ActionNotifyUser}
	case types.RiskMedium:
		return []types.Action{types.ActionRequireMFA, types.ActionNotifyUser}
	default:
		return []types.Action{types.ActionProceed}
	}
}

// RequiresMFA retorna true si las acciones incluyen algún requerimiento MFA.
func RequiresMFA(actions []types.Action) bool {
	for _, a := range actions {
		if a == types.ActionRequireMFA || a == types.ActionRequireStrongMFA {
			return true
		}
	}
	return false
}

// Blocks retorna true si las acciones incluyen bloqueo.
func Blocks(actions []types.Action) bool {
	for _, a := range actions {
		if a == types.ActionBlock {
			return true
		}
	}
	return false
}

// AllowedMethods retorna los métodos MFA admisibles para un nivel.
// En high solo se aceptan métodos fuertes.
func AllowedMethods(level types.RiskLevel, enabled []types.MFAMethod) []types.MFAMethod {
	if !level.AtLeast(types.RiskHigh) {
		return enabled
	}
	var out []types.MFAMethod
	for _, m := range enabled {
		if m.IsStrong() {
			out = append(out, m)
		}
	}
	return out
}
