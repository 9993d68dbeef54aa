// Package mfa orquesta el segundo factor: enrolamiento y verificación de
// TOTP, SMS, códigos de respaldo y WebAuthn detrás de una interfaz común.
//
// Las sesiones de setup y los códigos emitidos viven en cache con TTL y
// payload cifrado; nunca se confía en estado aportado por el cliente.
package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medvault/authcore/internal/audit"
	"github.com/medvault/authcore/internal/clock"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
	"github.com/medvault/authcore/internal/metrics"
	"github.com/medvault/authcore/internal/observability/logger"
	"github.com/medvault/authcore/internal/security/secretbox"
	tokens "github.com/medvault/authcore/internal/security/token"
)

var (
	// ErrVerificationFailed cubre tanto código inválido como presupuesto de
	// intentos agotado: el caller nunca puede distinguirlos (anti-oráculo).
	// El motivo real queda en el log de auditoría.
	ErrVerificationFailed = errors.New("mfa: verificación fallida")

	// ErrMethodNotEnrolled: el usuario no tiene ese método configurado.
	ErrMethodNotEnrolled = errors.New("mfa: método no enrolado")

	// ErrSetupExpired: la sesión de setup no existe o venció.
	ErrSetupExpired = errors.New("mfa: sesión de setup vencida")

	// ErrSMSQuotaExceeded: se alcanzó el tope de emisiones por hora.
	ErrSMSQuotaExceeded = errors.New("mfa: cuota de códigos SMS agotada")

	// ErrChallengeInvalid: el challenge token no existe, venció o ya se usó.
	ErrChallengeInvalid = errors.New("mfa: challenge inválido")
)

// SMSSender envía el código por SMS. El failover de proveedores es
// responsabilidad del canal, no de este paquete.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, body string) error
}

// WebAuthnVerifier es la capacidad FIDO2 externa: creación de challenge y
// verificación criptográfica de aserciones quedan delegadas.
type WebAuthnVerifier interface {
	CreateChallenge(ctx context.Context, userID string) ([]byte, error)
	// VerifyAssertion retorna la credencial usada y su sign count nuevo.
	VerifyAssertion(ctx context.Context, userID string, assertion []byte) (credentialID string, signCount uint32, err error)
}

// Deps son las dependencias del orquestador.
type Deps struct {
	Repo     repository.MFARepository
	Cache    repository.CacheRepository
	Box      *secretbox.Box
	SMS      SMSSender
	WebAuthn WebAuthnVerifier
	Clock    clock.Clock
	Log      *zap.Logger
	Audit    *audit.Auditor
}

// Config del orquestador.
type Config struct {
	// Issuer para las URLs otpauth (nombre visible en la app TOTP).
	Issuer string `yaml:"issuer"`
	// TOTPSetupTTL: vigencia de la sesión de enrolamiento TOTP (default 10m).
	TOTPSetupTTL time.Duration `yaml:"totp_setup_ttl"`
	// SMSCodeTTL: vigencia de un código SMS emitido (default 5m).
	SMSCodeTTL time.Duration `yaml:"sms_code_ttl"`
	// SMSMaxPerHour: emisiones máximas por usuario por hora (default 3).
	SMSMaxPerHour int `yaml:"sms_max_per_hour"`
	// SMSMaxAttempts: intentos por código antes de invalidarlo (default 5).
	SMSMaxAttempts int `yaml:"sms_max_attempts"`
	// SetupMaxAttempts: intentos de confirmación por sesión de setup (default 5).
	SetupMaxAttempts int `yaml:"setup_max_attempts"`
	// ChallengeTTL: vigencia del challenge post-password (default 5m).
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`
	// TOTPWindowSteps: ventana de verificación TOTP en steps (default 1).
	TOTPWindowSteps int `yaml:"totp_window_steps"`
	// BackupCodeCount: códigos por lote (default 10).
	BackupCodeCount int `yaml:"backup_code_count"`
	// BackupLowThreshold: umbral de aviso de pocos códigos (default 3).
	BackupLowThreshold int `yaml:"backup_low_threshold"`
}

func (c *Config) applyDefaults() {
	if c.Issuer == "" {
		c.Issuer = "MedVault"
	}
	if c.TOTPSetupTTL <= 0 {
		c.TOTPSetupTTL = 10 * time.Minute
	}
	if c.SMSCodeTTL <= 0 {
		c.SMSCodeTTL = 5 * time.Minute
	}
	if c.SMSMaxPerHour <= 0 {
		c.SMSMaxPerHour = 3
	}
	if c.SMSMaxAttempts <= 0 {
		c.SMSMaxAttempts = 5
	}
	if c.SetupMaxAttempts <= 0 {
		c.SetupMaxAttempts = 5
	}
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = 5 * time.Minute
	}
	if c.TOTPWindowSteps <= 0 {
		c.TOTPWindowSteps = 1
	}
	if c.BackupCodeCount <= 0 {
		c.BackupCodeCount = 10
	}
	if c.BackupLowThreshold <= 0 {
		c.BackupLowThreshold = 3
	}
}

// Orchestrator coordina los métodos de segundo factor.
type Orchestrator struct {
	deps Deps
	cfg  Config
}

// New construye el orquestador. SMS y WebAuthn pueden ser nil si esos
// métodos no están habilitados en el despliegue.
func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Repo == nil || deps.Cache == nil || deps.Box == nil {
		panic("mfa: Repo, Cache y Box son obligatorios")
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNop()
	}
	cfg.applyDefaults()
	return &Orchestrator{deps: deps, cfg: cfg}
}

// EnabledMethods retorna los métodos verificados del usuario.
func (o *Orchestrator) EnabledMethods(ctx context.Context, userID string) ([]types.MFAMethod, error) {
	return o.deps.Repo.EnabledMethods(ctx, userID)
}

// Verify despacha la verificación al handler del método. proof es el
// código/aserción según el método. El enum es cerrado: un método
// desconocido es error de programación, no de usuario.
func (o *Orchestrator) Verify(ctx context.Context, userID string, method types.MFAMethod, proof string) error {
	var err error
	switch method {
	case types.MFATOTP:
		err = o.verifyTOTP(ctx, userID, proof)
	case types.MFASMS:
		err = o.verifySMS(ctx, userID, proof)
	case types.MFABackupCode:
		err = o.verifyBackupCode(ctx, userID, proof)
	case types.MFAWebAuthn:
		err = o.verifyWebAuthn(ctx, userID, []byte(proof))
	default:
		return fmt.Errorf("%w: método %q", repository.ErrInvalidInput, method)
	}

	if err == nil {
		metrics.MFAVerifications.WithLabelValues(string(method), "success").Inc()
		o.deps.Audit.Log(ctx, audit.EventMFAVerified,
			logger.UserID(userID),
			logger.MFAMethod(string(method)),
		)
	} else if errors.Is(err, ErrVerificationFailed) {
		metrics.MFAVerifications.WithLabelValues(string(method), "failure").Inc()
	}
	return err
}

// ─── sesiones de setup (cache, cifradas) ───

type setupPayload struct {
	UserID   string `json:"user_id"`
	Method   string `json:"method"`
	Secret   string `json:"secret,omitempty"`
	Phone    string `json:"phone,omitempty"`
	CodeHash string `json:"code_hash,omitempty"`
	Attempts int    `json:"attempts"`
}

func (o *Orchestrator) storeSetup(ctx context.Context, id string, p setupPayload, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("mfa: serializando setup: %w", err)
	}
	enc, err := o.deps.Box.Encrypt(string(raw))
	if err != nil {
		return fmt.Errorf("mfa: cifrando setup: %w", err)
	}
	return o.deps.Cache.Set(ctx, repository.CacheKeyPrefixMFASetup+id, []byte(enc), ttl)
}

func (o *Orchestrator) loadSetup(ctx context.Context, id string) (*setupPayload, error) {
	enc, ok := o.deps.Cache.Get(ctx, repository.CacheKeyPrefixMFASetup+id)
	if !ok {
		return nil, ErrSetupExpired
	}
	raw, err := o.deps.Box.Decrypt(string(enc))
	if err != nil {
		return nil, fmt.Errorf("mfa: descifrando setup: %w", err)
	}
	var p setupPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("mfa: deserializando setup: %w", err)
	}
	return &p, nil
}

func (o *Orchestrator) dropSetup(ctx context.Context, id string) {
	_ = o.deps.Cache.Delete(ctx, repository.CacheKeyPrefixMFASetup+id)
}

func (o *Orchestrator) newOpaqueID() (string, error) {
	return tokens.GenerateOpaqueTokenFrom(o.deps.Clock.Rand(), 24)
}

// auditFailure registra el motivo interno real de una verificación fallida
// sin que ese motivo llegue al caller.
func (o *Orchestrator) auditFailure(ctx context.Context, userID string, method types.MFAMethod, reason string) error {
	o.deps.Audit.Log(ctx, audit.EventMFAFailed,
		logger.UserID(userID),
		logger.MFAMethod(string(method)),
		logger.Reason(reason),
	)
	return ErrVerificationFailed
}
