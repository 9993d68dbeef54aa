package mfa

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medvault/authcore/internal/audit"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
	"github.com/medvault/authcore/internal/observability/logger"
)

// Challenge es el estado pendiente entre el password aceptado y el segundo
// factor verificado. El token que lo identifica es opaco; el payload vive
// cifrado en cache y se consume en un solo uso.
type Challenge struct {
	UserID    string               `json:"user_id"`
	Methods   []types.MFAMethod    `json:"methods"`
	RiskLevel types.RiskLevel      `json:"risk_level"`
	DeviceID  *string              `json:"device_id,omitempty"`
	Profile   types.SessionProfile `json:"profile"`
	IssuedAt  time.Time            `json:"issued_at"`

	// Attempts de verificación fallidos contra este challenge.
	Attempts int `json:"attempts"`
}

// IssueChallenge crea un challenge pendiente y retorna su token opaco.
func (o *Orchestrator) IssueChallenge(ctx context.Context, ch Challenge) (string, error) {
	if ch.UserID == "" || len(ch.Methods) == 0 {
		return "", fmt.Errorf("%w: challenge incompleto", repository.ErrInvalidInput)
	}
	ch.IssuedAt = o.deps.Clock.Now()

	token, err := o.newOpaqueID()
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(ch)
	if err != nil {
		return "", fmt.Errorf("mfa: serializando challenge: %w", err)
	}
	enc, err := o.deps.Box.Encrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("mfa: cifrando challenge: %w", err)
	}
	if err := o.deps.Cache.Set(ctx, repository.CacheKeyPrefixMFAChallenge+token, []byte(enc), o.cfg.ChallengeTTL); err != nil {
		return "", err
	}

	o.deps.Audit.Log(ctx, audit.EventMFAChallenge,
		logger.UserID(ch.UserID),
		logger.RiskLevel(string(ch.RiskLevel)),
	)
	return token, nil
}

// ConsumeChallenge valida y consume un challenge token. Un solo uso: el
// get-and-delete es atómico para que dos requests concurrentes no lo
// canjeen los dos.
func (o *Orchestrator) ConsumeChallenge(ctx context.Context, token string) (*Challenge, error) {
	enc, ok, err := o.deps.Cache.GetAndDelete(ctx, repository.CacheKeyPrefixMFAChallenge+token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChallengeInvalid
	}
	raw, err := o.deps.Box.Decrypt(string(enc))
	if err != nil {
		return nil, fmt.Errorf("mfa: descifrando challenge: %w", err)
	}
	var ch Challenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return nil, fmt.Errorf("mfa: deserializando challenge: %w", err)
	}
	return &ch, nil
}

// RestoreChallenge vuelve a publicar un challenge consumido bajo el mismo
// token, para que un código errado no obligue a repetir el password. Si el
// presupuesto de intentos se agotó, el challenge muere definitivamente.
func (o *Orchestrator) RestoreChallenge(ctx context.Context, token string, ch *Challenge) error {
	if ch.Attempts >= o.cfg.SetupMaxAttempts {
		o.deps.Audit.Log(ctx, audit.EventMFAFailed,
			logger.UserID(ch.UserID),
			logger.Reason("challenge: intentos agotados"),
		)
		return ErrChallengeInvalid
	}
	raw, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("mfa: serializando challenge: %w", err)
	}
	enc, err := o.deps.Box.Encrypt(string(raw))
	if err != nil {
		return fmt.Errorf("mfa: cifrando challenge: %w", err)
	}
	return o.deps.Cache.Set(ctx, repository.CacheKeyPrefixMFAChallenge+token, []byte(enc), o.cfg.ChallengeTTL)
}
