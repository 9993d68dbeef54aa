// Package webauthnx adapta la librería go-webauthn a la capacidad de
// verificación que consume el orquestador MFA. La criptografía FIDO2
// (attestation, aserciones) queda enteramente en la librería; acá solo se
// maneja el estado de challenge y el mapeo de credenciales.
package webauthnx

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/medvault/authcore/internal/domain/repository"
)

const (
	sessionKeyPrefix = "mfa:webauthn:"
	sessionTTL       = 5 * time.Minute
)

// ErrNoChallenge: no hay challenge pendiente para el usuario.
var ErrNoChallenge = errors.New("webauthnx: sin challenge pendiente")

// Config del relying party.
type Config struct {
	RPDisplayName string   `yaml:"rp_display_name"`
	RPID          string   `yaml:"rp_id"`
	RPOrigins     []string `yaml:"rp_origins"`
}

// Adapter implementa la capacidad WebAuthn sobre go-webauthn. El estado
// del challenge (SessionData) vive en cache con TTL; el cliente solo ve
// las options serializadas.
type Adapter struct {
	wa    *webauthn.WebAuthn
	creds repository.MFARepository
	cache repository.CacheRepository
}

// New crea el adapter.
func New(cfg Config, creds repository.MFARepository, cache repository.CacheRepository) (*Adapter, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthnx: %w", err)
	}
	return &Adapter{wa: wa, creds: creds, cache: cache}, nil
}

// waUser adapta las credenciales persistidas a la interfaz webauthn.User.
type waUser struct {
	id    string
	creds []webauthn.Credential
}

func (u *waUser) WebAuthnID() []byte                         { return []byte(u.id) }
func (u *waUser) WebAuthnName() string                       { return u.id }
func (u *waUser) WebAuthnDisplayName() string                { return u.id }
func (u *waUser) WebAuthnIcon() string                       { return "" }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (a *Adapter) loadUser(ctx context.Context, userID string) (*waUser, error) {
	stored, err := a.creds.ListWebAuthnCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	u := &waUser{id: userID}
	for _, c := range stored {
		rawID, err := base64.RawURLEncoding.DecodeString(c.CredentialID)
		if err != nil {
			continue
		}
		u.creds = append(u.creds, webauthn.Credential{
			ID:            rawID,
			Authenticator: webauthn.Authenticator{SignCount: c.SignCount},
		})
	}
	return u, nil
}

// CreateChallenge inicia un login WebAuthn y retorna las options
// (CredentialAssertion) serializadas para el cliente.
func (a *Adapter) CreateChallenge(ctx context.Context, userID string) ([]byte, error) {
	user, err := a.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	options, sessionData, err := a.wa.BeginLogin(user)
	if err != nil {
		return nil, fmt.Errorf("webauthnx: begin login: %w", err)
	}

	raw, err := json.Marshal(sessionData)
	if err != nil {
		return nil, fmt.Errorf("webauthnx: serializando session data: %w", err)
	}
	if err := a.cache.Set(ctx, sessionKeyPrefix+userID, raw, sessionTTL); err != nil {
		return nil, err
	}
	return json.Marshal(options)
}

// VerifyAssertion valida la aserción del cliente contra el challenge
// pendiente. El challenge se consume al verificar, con o sin éxito.
func (a *Adapter) VerifyAssertion(ctx context.Context, userID string, assertion []byte) (string, uint32, error) {
	raw, ok, err := a.cache.GetAndDelete(ctx, sessionKeyPrefix+userID)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, ErrNoChallenge
	}
	var sessionData webauthn.SessionData
	if err := json.Unmarshal(raw, &sessionData); err != nil {
		return "", 0, fmt.Errorf("webauthnx: session data corrupta: %w", err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(assertion))
	if err != nil {
		return "", 0, fmt.Errorf("webauthnx: aserción malformada: %w", err)
	}

	user, err := a.loadUser(ctx, userID)
	if err != nil {
		return "", 0, err
	}
	cred, err := a.wa.ValidateLogin(user, sessionData, parsed)
	if err != nil {
		return "", 0, fmt.Errorf("webauthnx: aserción rechazada: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(cred.ID), cred.Authenticator.SignCount, nil
}
