package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/medvault/authcore/internal/audit"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
	"github.com/medvault/authcore/internal/observability/logger"
	tokens "github.com/medvault/authcore/internal/security/token"
)

const smsCodeDigits = 6

type smsCodePayload struct {
	UserID   string `json:"user_id"`
	CodeHash string `json:"code_hash"`
	Attempts int    `json:"attempts"`
}

// StartSMSChallenge emite un código de 6 dígitos al teléfono verificado
// del usuario. Tope de emisiones por hora (ventana deslizante); el código
// vive cifrado en cache con TTL corto y presupuesto de intentos propio.
func (o *Orchestrator) StartSMSChallenge(ctx context.Context, userID string) error {
	if o.deps.SMS == nil {
		return ErrMethodNotEnrolled
	}
	cfg, err := o.deps.Repo.GetSMS(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMethodNotEnrolled
		}
		return err
	}
	if cfg.ConfirmedAt == nil {
		return ErrMethodNotEnrolled
	}

	if err := o.consumeSMSQuota(ctx, userID); err != nil {
		return err
	}

	code, err := tokens.NumericCode(o.deps.Clock.Rand(), smsCodeDigits)
	if err != nil {
		return fmt.Errorf("mfa: generando código SMS: %w", err)
	}
	raw, err := json.Marshal(smsCodePayload{
		UserID:   userID,
		CodeHash: tokens.SHA256Base64URL(code),
	})
	if err != nil {
		return fmt.Errorf("mfa: serializando código SMS: %w", err)
	}
	enc, err := o.deps.Box.Encrypt(string(raw))
	if err != nil {
		return fmt.Errorf("mfa: cifrando código SMS: %w", err)
	}
	if err := o.deps.Cache.Set(ctx, repository.CacheKeyPrefixSMSCode+userID, []byte(enc), o.cfg.SMSCodeTTL); err != nil {
		return err
	}

	body := fmt.Sprintf("Tu código de verificación es %s. Vence en %d minutos.",
		code, int(o.cfg.SMSCodeTTL.Minutes()))
	if err := o.deps.SMS.SendSMS(ctx, cfg.PhoneNumber, body); err != nil {
		// sin SMS entregado el código no sirve; liberar la entrada
		_ = o.deps.Cache.Delete(ctx, repository.CacheKeyPrefixSMSCode+userID)
		return fmt.Errorf("mfa: enviando SMS: %w", err)
	}

	o.deps.Audit.Log(ctx, audit.EventMFAChallenge,
		logger.UserID(userID),
		logger.MFAMethod(string(types.MFASMS)),
	)
	return nil
}

// consumeSMSQuota aplica la ventana deslizante de emisiones por hora.
func (o *Orchestrator) consumeSMSQuota(ctx context.Context, userID string) error {
	key := repository.CacheKeyPrefixSMSCode + "quota:" + userID
	now := o.deps.Clock.Now()
	cutoff := now.Add(-time.Hour)

	var issued []time.Time
	if raw, ok := o.deps.Cache.Get(ctx, key); ok {
		_ = json.Unmarshal(raw, &issued)
	}
	kept := issued[:0]
	for _, t := range issued {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= o.cfg.SMSMaxPerHour {
		o.deps.Audit.Log(ctx, audit.EventRateLimited,
			logger.UserID(userID),
			logger.MFAMethod(string(types.MFASMS)),
			logger.Count(len(kept)),
		)
		return ErrSMSQuotaExceeded
	}
	kept = append(kept, now)
	raw, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("mfa: serializando cuota SMS: %w", err)
	}
	return o.deps.Cache.Set(ctx, key, raw, time.Hour)
}

// verifySMS valida un código emitido. Presupuesto de 5 intentos por
// código; al agotarse se invalida y hay que emitir uno nuevo. En éxito el
// código se consume: el mismo código jamás valida dos veces.
func (o *Orchestrator) verifySMS(ctx context.Context, userID, code string) error {
	key := repository.CacheKeyPrefixSMSCode + userID
	enc, ok := o.deps.Cache.Get(ctx, key)
	if !ok {
		return o.auditFailure(ctx, userID, types.MFASMS, "sin código vigente")
	}
	raw, err := o.deps.Box.Decrypt(string(enc))
	if err != nil {
		return fmt.Errorf("mfa: descifrando código SMS: %w", err)
	}
	var p smsCodePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("mfa: deserializando código SMS: %w", err)
	}

	if p.Attempts >= o.cfg.SMSMaxAttempts {
		_ = o.deps.Cache.Delete(ctx, key)
		return o.auditFailure(ctx, userID, types.MFASMS, "intentos agotados")
	}
	if !tokens.ConstantTimeEquals(p.CodeHash, tokens.SHA256Base64URL(code)) {
		p.Attempts++
		if p.Attempts >= o.cfg.SMSMaxAttempts {
			// código quemado; exigir re-emisión
			_ = o.deps.Cache.Delete(ctx, key)
		} else {
			if nraw, merr := json.Marshal(p); merr == nil {
				if nenc, eerr := o.deps.Box.Encrypt(string(nraw)); eerr == nil {
					_ = o.deps.Cache.Set(ctx, key, []byte(nenc), o.cfg.SMSCodeTTL)
				}
			}
		}
		return o.auditFailure(ctx, userID, types.MFASMS, "código inválido")
	}

	// consumido: eliminar antes de reportar éxito
	if err := o.deps.Cache.Delete(ctx, key); err != nil {
		return err
	}
	return o.deps.Repo.MarkSMSUsed(ctx, userID, o.deps.Clock.Now())
}

// EnrollSMS abre el enrolamiento SMS: guarda el teléfono sin confirmar y
// emite un código de verificación al número.
func (o *Orchestrator) EnrollSMS(ctx context.Context, userID, phone string) error {
	if o.deps.SMS == nil {
		return fmt.Errorf("%w: canal SMS no configurado", repository.ErrInvalidInput)
	}
	if phone == "" {
		return fmt.Errorf("%w: falta teléfono", repository.ErrInvalidInput)
	}
	if err := o.deps.Repo.UpsertSMS(ctx, userID, phone, nil); err != nil {
		return err
	}
	if err := o.consumeSMSQuota(ctx, userID); err != nil {
		return err
	}

	code, err := tokens.NumericCode(o.deps.Clock.Rand(), smsCodeDigits)
	if err != nil {
		return fmt.Errorf("mfa: generando código SMS: %w", err)
	}
	// el setupID del enrolamiento SMS deriva del userID: un enrolamiento
	// pendiente por usuario a la vez
	if err := o.storeSetup(ctx, "sms:"+userID, setupPayload{
		UserID:   userID,
		Method:   string(types.MFASMS),
		Phone:    phone,
		CodeHash: tokens.SHA256Base64URL(code),
	}, o.cfg.SMSCodeTTL); err != nil {
		return err
	}

	body := fmt.Sprintf("Tu código de verificación es %s. Vence en %d minutos.",
		code, int(o.cfg.SMSCodeTTL.Minutes()))
	if err := o.deps.SMS.SendSMS(ctx, phone, body); err != nil {
		o.dropSetup(ctx, "sms:"+userID)
		return fmt.Errorf("mfa: enviando SMS: %w", err)
	}
	return nil
}

// ConfirmSMSEnrollment confirma el teléfono con el código recibido.
func (o *Orchestrator) ConfirmSMSEnrollment(ctx context.Context, userID, code string) error {
	p, err := o.loadSetup(ctx, "sms:"+userID)
	if err != nil {
		return err
	}
	if p.UserID != userID || p.Method != string(types.MFASMS) {
		o.dropSetup(ctx, "sms:"+userID)
		return ErrSetupExpired
	}
	if p.Attempts >= o.cfg.SetupMaxAttempts {
		o.dropSetup(ctx, "sms:"+userID)
		return o.auditFailure(ctx, userID, types.MFASMS, "setup: intentos agotados")
	}
	if !tokens.ConstantTimeEquals(p.CodeHash, tokens.SHA256Base64URL(code)) {
		p.Attempts++
		_ = o.storeSetup(ctx, "sms:"+userID, *p, o.cfg.SMSCodeTTL)
		return o.auditFailure(ctx, userID, types.MFASMS, "setup: código inválido")
	}

	now := o.deps.Clock.Now()
	if err := o.deps.Repo.UpsertSMS(ctx, userID, p.Phone, &now); err != nil {
		return err
	}
	o.dropSetup(ctx, "sms:"+userID)

	o.deps.Audit.Log(ctx, audit.EventMFAEnrolled,
		logger.UserID(userID),
		logger.MFAMethod(string(types.MFASMS)),
	)
	return nil
}

// DisableSMS elimina la configuración SMS del usuario.
func (o *Orchestrator) DisableSMS(ctx context.Context, userID string) error {
	return o.deps.Repo.DisableSMS(ctx, userID)
}
