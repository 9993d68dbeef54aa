package repository

import (
	"context"
	"time"

	"github.com/medvault/authcore/internal/domain/types"
)

// MFATOTP representa la configuración TOTP de un usuario.
type MFATOTP struct {
	UserID          string
	SecretEncrypted string
	ConfirmedAt     *time.Time
	LastUsedAt      *time.Time

	// LastCounter es el último contador TOTP aceptado (anti-replay).
	LastCounter int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MFASMS representa la configuración SMS de un usuario.
type MFASMS struct {
	UserID      string
	PhoneNumber string
	ConfirmedAt *time.Time
	LastUsedAt  *time.Time
}

// BackupCode es un código de recuperación de un solo uso.
type BackupCode struct {
	Hash      string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// WebAuthnCredential es la referencia a una credencial FIDO2 registrada.
// La verificación criptográfica la hace el verificador externo; acá solo
// se trackea qué credenciales existen y su sign count.
type WebAuthnCredential struct {
	UserID       string
	CredentialID string
	Name         string
	SignCount    uint32
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}

// MFARepository define operaciones sobre la configuración MFA de usuarios.
type MFARepository interface {
	// ─── TOTP ───

	// UpsertTOTP crea o actualiza el secreto TOTP (cifrado) de un usuario.
	UpsertTOTP(ctx context.Context, userID, secretEnc string) error

	// ConfirmTOTP marca el TOTP como confirmado.
	ConfirmTOTP(ctx context.Context, userID string, at time.Time) error

	// GetTOTP obtiene la configuración TOTP. Retorna ErrNotFound si no existe.
	GetTOTP(ctx context.Context, userID string) (*MFATOTP, error)

	// MarkTOTPUsed actualiza last_used y el contador anti-replay.
	MarkTOTPUsed(ctx context.Context, userID string, at time.Time, counter int64) error

	// DisableTOTP elimina la configuración TOTP de un usuario.
	DisableTOTP(ctx context.Context, userID string) error

	// ─── SMS ───

	// UpsertSMS guarda el número de teléfono verificado.
	UpsertSMS(ctx context.Context, userID, phone string, confirmedAt *time.Time) error

	// GetSMS obtiene la configuración SMS. Retorna ErrNotFound si no existe.
	GetSMS(ctx context.Context, userID string) (*MFASMS, error)

	// MarkSMSUsed actualiza last_used.
	MarkSMSUsed(ctx context.Context, userID string, at time.Time) error

	// DisableSMS elimina la configuración SMS.
	DisableSMS(ctx context.Context, userID string) error

	// ─── Backup Codes ───

	// ReplaceBackupCodes reemplaza atómicamente el lote completo de códigos.
	// Los hashes deben venir ya calculados.
	ReplaceBackupCodes(ctx context.Context, userID string, hashes []string, at time.Time) error

	// ListBackupCodes retorna los códigos (hashes) del lote vigente.
	ListBackupCodes(ctx context.Context, userID string) ([]BackupCode, error)

	// UseBackupCode marca un código como usado. Retorna false si el hash no
	// existe o ya fue usado.
	UseBackupCode(ctx context.Context, userID, hash string, at time.Time) (bool, error)

	// DeleteBackupCodes elimina todos los códigos de un usuario.
	DeleteBackupCodes(ctx context.Context, userID string) error

	// ─── WebAuthn ───

	// AddWebAuthnCredential registra una credencial verificada.
	AddWebAuthnCredential(ctx context.Context, cred WebAuthnCredential) error

	// ListWebAuthnCredentials retorna las credenciales activas de un usuario.
	ListWebAuthnCredentials(ctx context.Context, userID string) ([]WebAuthnCredential, error)

	// UpdateWebAuthnSignCount actualiza el sign count tras una aserción válida.
	UpdateWebAuthnSignCount(ctx context.Context, userID, credentialID string, signCount uint32, at time.Time) error

	// RemoveWebAuthnCredential elimina una credencial.
	RemoveWebAuthnCredential(ctx context.Context, userID, credentialID string) error

	// ─── Estado agregado ───

	// EnabledMethods retorna los métodos con secreto/credencial verificada.
	EnabledMethods(ctx context.Context, userID string) ([]types.MFAMethod, error)
}
