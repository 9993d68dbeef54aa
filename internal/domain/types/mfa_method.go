package types

// MFAMethod es el conjunto cerrado de métodos de segundo factor.
// Cada variante tiene un handler propio detrás de una interfaz común;
// no hay dispatch sobre strings arbitrarios.
type MFAMethod string

const (
	MFATOTP       MFAMethod = "totp"
	MFASMS        MFAMethod = "sms"
	MFABackupCode MFAMethod = "backup_code"
	MFAWebAuthn   MFAMethod = "webauthn"
)

// IsValid retorna true si el método es válido.
func (m MFAMethod) IsValid() bool {
	switch m {
	case MFATOTP, MFASMS, MFABackupCode, MFAWebAuthn:
		return true
	}
	return false
}

// IsStrong retorna true si el método califica como "MFA fuerte"
// (exigido en nivel de riesgo high): TOTP y WebAuthn.
func (m MFAMethod) IsStrong() bool {
	return m == MFATOTP || m == MFAWebAuthn
}
