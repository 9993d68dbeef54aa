package mfa

import (
	"context"

	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
)

// BeginWebAuthnLogin pide un challenge al verificador externo. Falla
// cerrado: sin verificador disponible no hay login por WebAuthn.
func (o *Orchestrator) BeginWebAuthnLogin(ctx context.Context, userID string) ([]byte, error) {
	if o.deps.WebAuthn == nil {
		return nil, ErrMethodNotEnrolled
	}
	creds, err := o.deps.Repo.ListWebAuthnCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, ErrMethodNotEnrolled
	}
	return o.deps.WebAuthn.CreateChallenge(ctx, userID)
}

// verifyWebAuthn delega la verificación criptográfica y chequea el sign
// count: un contador que no avanza respecto del registrado indica una
// credencial clonada y la aserción se rechaza.
func (o *Orchestrator) verifyWebAuthn(ctx context.Context, userID string, assertion []byte) error {
	if o.deps.WebAuthn == nil {
		return ErrMethodNotEnrolled
	}
	credID, signCount, err := o.deps.WebAuthn.VerifyAssertion(ctx, userID, assertion)
	if err != nil {
		return o.auditFailure(ctx, userID, types.MFAWebAuthn, "aserción rechazada por el verificador")
	}

	creds, err := o.deps.Repo.ListWebAuthnCredentials(ctx, userID)
	if err != nil {
		return err
	}
	var stored *repository.WebAuthnCredential
	for i := range creds {
		if creds[i].CredentialID == credID {
			stored = &creds[i]
			break
		}
	}
	if stored == nil {
		return o.auditFailure(ctx, userID, types.MFAWebAuthn, "credencial desconocida")
	}
	if stored.SignCount > 0 && signCount <= stored.SignCount {
		return o.auditFailure(ctx, userID, types.MFAWebAuthn, "sign count retrocedió (posible clon)")
	}
	return o.deps.Repo.UpdateWebAuthnSignCount(ctx, userID, credID, signCount, o.deps.Clock.Now())
}

// RegisterWebAuthnCredential guarda una credencial ya verificada por el
// flujo de registro externo.
func (o *Orchestrator) RegisterWebAuthnCredential(ctx context.Context, cred repository.WebAuthnCredential) error {
	if cred.UserID == "" || cred.CredentialID == "" {
		return repository.ErrInvalidInput
	}
	cred.CreatedAt = o.deps.Clock.Now()
	return o.deps.Repo.AddWebAuthnCredential(ctx, cred)
}

// RemoveWebAuthnCredential elimina una credencial registrada.
func (o *Orchestrator) RemoveWebAuthnCredential(ctx context.Context, userID, credentialID string) error {
	return o.deps.Repo.RemoveWebAuthnCredential(ctx, userID, credentialID)
}
