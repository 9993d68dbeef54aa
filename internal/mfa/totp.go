package mfa

import (
	"context"
	"errors"
	"fmt"

	"github.com/medvault/authcore/internal/audit"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
	"github.com/medvault/authcore/internal/observability/logger"
	"github.com/medvault/authcore/internal/security/totp"
)

// TOTPEnrollment es el resultado de iniciar un enrolamiento TOTP.
type TOTPEnrollment struct {
	SetupID string
	// Secret en base32, para entrada manual en la app.
	Secret string
	// ProvisioningURL para el QR (otpauth://).
	ProvisioningURL string
}

// StartTOTPEnrollment genera un secreto nuevo y abre una sesión de setup.
// El secreto viaja al cliente una única vez; del lado servidor solo queda
// cifrado dentro de la sesión de setup hasta la confirmación.
func (o *Orchestrator) StartTOTPEnrollment(ctx context.Context, userID, accountName string) (*TOTPEnrollment, error) {
	if userID == "" || accountName == "" {
		return nil, fmt.Errorf("%w: faltan user id o account", repository.ErrInvalidInput)
	}
	_, b32, err := totp.GenerateSecret(o.deps.Clock.Rand())
	if err != nil {
		return nil, fmt.Errorf("mfa: generando secreto TOTP: %w", err)
	}
	id, err := o.newOpaqueID()
	if err != nil {
		return nil, err
	}
	if err := o.storeSetup(ctx, id, setupPayload{
		UserID: userID,
		Method: string(types.MFATOTP),
		Secret: b32,
	}, o.cfg.TOTPSetupTTL); err != nil {
		return nil, err
	}
	return &TOTPEnrollment{
		SetupID:         id,
		Secret:          b32,
		ProvisioningURL: totp.OTPAuthURL(o.cfg.Issuer, accountName, b32),
	}, nil
}

// ConfirmTOTPEnrollment valida el primer código contra la sesión de setup
// y, si es correcto, persiste el secreto cifrado y marca TOTP confirmado.
func (o *Orchestrator) ConfirmTOTPEnrollment(ctx context.Context, userID, setupID, code string) error {
	p, err := o.loadSetup(ctx, setupID)
	if err != nil {
		return err
	}
	if p.UserID != userID || p.Method != string(types.MFATOTP) {
		o.dropSetup(ctx, setupID)
		return ErrSetupExpired
	}
	if p.Attempts >= o.cfg.SetupMaxAttempts {
		o.dropSetup(ctx, setupID)
		return o.auditFailure(ctx, userID, types.MFATOTP, "setup: intentos agotados")
	}

	secret, err := totp.DecodeSecret(p.Secret)
	if err != nil {
		o.dropSetup(ctx, setupID)
		return fmt.Errorf("mfa: secreto de setup corrupto: %w", err)
	}
	now := o.deps.Clock.Now()
	ok, counter := totp.Verify(secret, code, now, o.cfg.TOTPWindowSteps, -1)
	if !ok {
		p.Attempts++
		// la sesión sobrevive para reintentar dentro del TTL
		_ = o.storeSetup(ctx, setupID, *p, o.cfg.TOTPSetupTTL)
		return o.auditFailure(ctx, userID, types.MFATOTP, "setup: código inválido")
	}

	enc, err := o.deps.Box.Encrypt(p.Secret)
	if err != nil {
		return fmt.Errorf("mfa: cifrando secreto TOTP: %w", err)
	}
	if err := o.deps.Repo.UpsertTOTP(ctx, userID, enc); err != nil {
		return err
	}
	if err := o.deps.Repo.ConfirmTOTP(ctx, userID, now); err != nil {
		return err
	}
	if err := o.deps.Repo.MarkTOTPUsed(ctx, userID, now, counter); err != nil {
		return err
	}
	o.dropSetup(ctx, setupID)

	o.deps.Audit.Log(ctx, audit.EventMFAEnrolled,
		logger.UserID(userID),
		logger.MFAMethod(string(types.MFATOTP)),
	)
	return nil
}

// verifyTOTP valida un código contra el secreto confirmado del usuario.
// Ventana ±N steps; el contador aceptado se persiste para que el mismo
// código nunca valide dos veces.
func (o *Orchestrator) verifyTOTP(ctx context.Context, userID, code string) error {
	cfg, err := o.deps.Repo.GetTOTP(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMethodNotEnrolled
		}
		return err
	}
	if cfg.ConfirmedAt == nil {
		return ErrMethodNotEnrolled
	}

	b32, err := o.deps.Box.Decrypt(cfg.SecretEncrypted)
	if err != nil {
		return fmt.Errorf("mfa: descifrando secreto TOTP: %w", err)
	}
	secret, err := totp.DecodeSecret(b32)
	if err != nil {
		return fmt.Errorf("mfa: secreto TOTP corrupto: %w", err)
	}

	now := o.deps.Clock.Now()
	ok, counter := totp.Verify(secret, code, now, o.cfg.TOTPWindowSteps, cfg.LastCounter)
	if !ok {
		return o.auditFailure(ctx, userID, types.MFATOTP, "código inválido o replayado")
	}
	return o.deps.Repo.MarkTOTPUsed(ctx, userID, now, counter)
}

// DisableTOTP elimina la configuración TOTP del usuario.
func (o *Orchestrator) DisableTOTP(ctx context.Context, userID string) error {
	return o.deps.Repo.DisableTOTP(ctx, userID)
}
