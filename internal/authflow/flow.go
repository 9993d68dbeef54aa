// Package authflow encadena el pipeline de autenticación adaptativa:
// bypass y rate limiting, lockout, verificación de credenciales,
// resolución de dispositivo, scoring de riesgo, política de acciones y
// emisión de sesión o challenge MFA.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medvault/authcore/internal/audit"
	"github.com/medvault/authcore/internal/clock"
	"github.com/medvault/authcore/internal/device"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
	"github.com/medvault/authcore/internal/metrics"
	"github.com/medvault/authcore/internal/mfa"
	"github.com/medvault/authcore/internal/observability/logger"
	"github.com/medvault/authcore/internal/rate"
	"github.com/medvault/authcore/internal/risk"
	"github.com/medvault/authcore/internal/session"
)

var (
	// ErrInvalidCredentials es la falla genérica de autenticación: nunca
	// revela si el identificador existe ni qué parte falló.
	ErrInvalidCredentials = errors.New("authflow: credenciales inválidas")

	// ErrLocked: el identificador está bloqueado por fallos acumulados.
	ErrLocked = errors.New("authflow: cuenta bloqueada temporalmente")

	// ErrRateLimited: el origen superó el límite de intentos.
	ErrRateLimited = errors.New("authflow: demasiados intentos")

	// ErrBlocked: el riesgo del intento exige bloqueo y revisión manual.
	ErrBlocked = errors.New("authflow: intento bloqueado")

	// ErrMFAUnavailable: el nivel de riesgo exige MFA fuerte y el usuario
	// no tiene ningún método fuerte enrolado.
	ErrMFAUnavailable = errors.New("authflow: se requiere un segundo factor no disponible")
)

// RateLimitedError envuelve ErrRateLimited con los datos para el back-off.
type RateLimitedError struct {
	RetryAfter time.Duration
	Window     string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("authflow: demasiados intentos (ventana %s, reintentar en %s)", e.Window, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// BreachChecker es la señal de credencial comprometida (fail-open).
type BreachChecker interface {
	IsBreached(ctx context.Context, credential string) bool
}

// LoginNotifier avisa al usuario de un login con riesgo elevado.
type LoginNotifier interface {
	NotifyLogin(ctx context.Context, email, riskLevel, deviceName string)
}

// Deps del pipeline.
type Deps struct {
	Users    repository.UserRepository
	Attempts repository.AttemptRepository
	Devices  *device.Tracker
	Risk     *risk.Engine
	MFA      *mfa.Orchestrator
	Sessions *session.Manager
	Limiter  rate.Limiter
	Bypass   *rate.BypassEvaluator
	Breach   BreachChecker
	Notify   LoginNotifier
	Clock    clock.Clock
	Log      *zap.Logger
	Audit    *audit.Auditor
}

// Config del pipeline.
type Config struct {
	// LockoutThreshold: fallos consecutivos que disparan el bloqueo (default 5).
	LockoutThreshold int `yaml:"lockout_threshold"`
	// LockoutDuration: duración del bloqueo; el desbloqueo es perezoso,
	// se evalúa en el siguiente intento (default 15m).
	LockoutDuration time.Duration `yaml:"lockout_duration"`
	// FailureWindow: ventana de conteo de fallos (default 1h).
	FailureWindow time.Duration `yaml:"failure_window"`
	// DisableTrustedDeviceSkip desactiva la exención de MFA estándar para
	// dispositivos confiables. La exención nunca aplica a riesgo alto.
	DisableTrustedDeviceSkip bool `yaml:"disable_trusted_device_skip"`
}

func (c *Config) applyDefaults() {
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = time.Hour
	}
}

// Flow es el pipeline de autenticación.
type Flow struct {
	deps Deps
	cfg  Config
}

// New construye el Flow. Breach y Notify pueden ser nil.
func New(deps Deps, cfg Config) *Flow {
	if deps.Users == nil || deps.Attempts == nil || deps.Devices == nil ||
		deps.Risk == nil || deps.MFA == nil || deps.Sessions == nil || deps.Limiter == nil {
		panic("authflow: faltan dependencias obligatorias")
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
	return &Flow{deps: deps, cfg: cfg}
}

// AttemptInput es el contexto efímero de un intento de autenticación.
// No se persiste más allá del registro de auditoría.
type AttemptInput struct {
	Identifier string
	Password   string
	SourceIP   string
	UserAgent  string
	Headers    map[string]string

	// ClientSignals son señales opcionales del cliente (resolución,
	// timezone, canvas hash) que refinan el fingerprint.
	ClientSignals map[string]string

	// Fingerprint precomputado; vacío lo deriva de headers+señales.
	Fingerprint string

	Profile types.SessionProfile

	// Path del endpoint, para las reglas de bypass.
	Path string

	// TorExit lo resuelve la infraestructura de red (lista de exit nodes).
	TorExit bool

	// Geolocalización aproximada del intento, si la infra la resolvió.
	Location *risk.GeoPoint
}

// Status del intento.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusMFARequired Status = "mfa_required"
)

// Outcome es el resultado de un intento admitido. Los rechazos viajan
// como errores centinela, no como Outcome.
type Outcome struct {
	Status Status

	// Session queda poblado en success.
	Session *session.Established

	// ChallengeToken y Methods quedan poblados en mfa_required.
	ChallengeToken string
	Methods        []types.MFAMethod

	RiskLevel types.RiskLevel
	RiskScore float64
	DeviceID  string
}

// Authenticate ejecuta el pipeline completo para un intento con password.
func (f *Flow) Authenticate(ctx context.Context, in AttemptInput) (*Outcome, error) {
	identifier := strings.ToLower(strings.TrimSpace(in.Identifier))
	if identifier == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: faltan credenciales", repository.ErrInvalidInput)
	}
	if !in.Profile.IsValid() {
		in.Profile = types.SessionWeb
	}
	now := f.deps.Clock.Now()

	// Paso 1: bypass y rate limiting
	if err := f.gate(ctx, identifier, in); err != nil {
		return nil, err
	}

	// Paso 2: lockout perezoso
	if err := f.checkLockout(ctx, identifier, now); err != nil {
		return nil, err
	}

	// Paso 3: credenciales. La falla es genérica: mismo error para
	// usuario inexistente, deshabilitado o password incorrecto.
	user, err := f.verifyCredentials(ctx, identifier, in)
	if err != nil {
		return nil, err
	}

	// Paso 4: dispositivo
	fp := in.Fingerprint
	if fp == "" {
		fp = device.Fingerprint(in.Headers, in.ClientSignals)
	}
	dev, created, err := f.deps.Devices.ResolveOrCreate(ctx, user.ID, fp, in.UserAgent)
	if err != nil {
		return nil, err
	}
	if created {
		f.deps.Audit.Log(ctx, audit.EventDeviceRegistered,
			logger.UserID(user.ID),
			logger.DeviceID(dev.ID),
		)
	}

	// Paso 5: scoring
	assessment, err := f.assess(ctx, user, identifier, fp, !created, in, now)
	if err != nil {
		return nil, err
	}
	metrics.RiskScoreObserved.Observe(assessment.Score)
	metrics.RiskLevelTotal.WithLabelValues(string(assessment.Level)).Inc()

	// Paso 6: política
	if risk.Blocks(assessment.Actions) {
		f.recordAttempt(ctx, identifier, in, false, "blocked_by_risk", now)
		metrics.AuthAttempts.WithLabelValues("blocked").Inc()
		f.deps.Audit.Log(ctx, audit.EventLoginBlocked,
			logger.Identifier(identifier),
			logger.ClientIP(in.SourceIP),
			logger.RiskLevel(string(assessment.Level)),
			logger.RiskScore(assessment.Score),
		)
		return nil, ErrBlocked
	}

	needMFA := risk.RequiresMFA(assessment.Actions)
	if needMFA && !f.cfg.DisableTrustedDeviceSkip && !assessment.Level.AtLeast(types.RiskHigh) {
		trusted, terr := f.deps.Devices.IsTrusted(ctx, user.ID, fp)
		if terr == nil && trusted {
			needMFA = false
		}
	}

	if needMFA {
		return f.issueMFAChallenge(ctx, user, dev, assessment, in, now)
	}
	return f.establish(ctx, user, dev, assessment, in, false, now)
}

// CompleteMFA canjea un challenge pendiente con la prueba del método
// elegido y, en éxito, emite la sesión.
func (f *Flow) CompleteMFA(ctx context.Context, challengeToken string, method types.MFAMethod, proof string, in AttemptInput) (*Outcome, error) {
	ch, err := f.deps.MFA.ConsumeChallenge(ctx, challengeToken)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, m := range ch.Methods {
		if m == method {
			allowed = true
			break
		}
	}
	if !allowed {
		// método fuera de la lista del challenge: tratar como verificación
		// fallida sin revelar el porqué
		ch.Attempts++
		_ = f.deps.MFA.RestoreChallenge(ctx, challengeToken, ch)
		return nil, mfa.ErrVerificationFailed
	}

	if err := f.deps.MFA.Verify(ctx, ch.UserID, method, proof); err != nil {
		if errors.Is(err, mfa.ErrVerificationFailed) {
			ch.Attempts++
			_ = f.deps.MFA.RestoreChallenge(ctx, challengeToken, ch)
		}
		return nil, err
	}

	user, err := f.deps.Users.GetByID(ctx, ch.UserID)
	if err != nil {
		return nil, err
	}
	now := f.deps.Clock.Now()
	in.Profile = ch.Profile

	var dev *repository.Device
	if ch.DeviceID != nil {
		dev = &repository.Device{ID: *ch.DeviceID}
	}
	assessment := &risk.Assessment{Level: ch.RiskLevel}
	return f.establish(ctx, user, dev, assessment, in, true, now)
}

// ValidateRequest valida el access token de un request subsiguiente.
func (f *Flow) ValidateRequest(ctx context.Context, accessToken string) (*repository.Session, error) {
	return f.deps.Sessions.Validate(ctx, accessToken)
}

// ─── pasos internos ───

func (f *Flow) gate(ctx context.Context, identifier string, in AttemptInput) error {
	if f.deps.Bypass != nil {
		rule, matched := f.deps.Bypass.Match(rate.BypassRequest{
			IP:         in.SourceIP,
			UserAgent:  in.UserAgent,
			Credential: identifier,
			Path:       in.Path,
			Headers:    in.Headers,
		})
		if matched {
			metrics.RateBypassMatches.WithLabelValues(rule.Name).Inc()
			f.deps.Audit.Log(ctx, audit.EventBypassMatched,
				logger.RuleName(rule.Name),
				logger.ClientIP(in.SourceIP),
			)
			return nil
		}
	}

	res, err := f.deps.Limiter.Allow(ctx, "login:"+in.SourceIP)
	if err != nil {
		return fmt.Errorf("authflow: rate limiter: %w", err)
	}
	if !res.Allowed {
		metrics.RateLimitRejections.Inc()
		metrics.AuthAttempts.WithLabelValues("rate_limited").Inc()
		f.deps.Audit.Log(ctx, audit.EventRateLimited,
			logger.ClientIP(in.SourceIP),
			logger.String("window", res.Window),
		)
		return &RateLimitedError{RetryAfter: res.RetryAfter, Window: res.Window}
	}
	return nil
}

func (f *Flow) checkLockout(ctx context.Context, identifier string, now time.Time) error {
	failed, err := f.deps.Attempts.CountFailedByIdentifier(ctx, identifier, now.Add(-f.cfg.FailureWindow))
	if err != nil {
		return fmt.Errorf("authflow: contando fallos: %w", err)
	}
	if failed < f.cfg.LockoutThreshold {
		return nil
	}
	last, err := f.deps.Attempts.LastFailure(ctx, identifier)
	if err != nil {
		return fmt.Errorf("authflow: último fallo: %w", err)
	}
	if now.Before(last.Add(f.cfg.LockoutDuration)) {
		metrics.AuthAttempts.WithLabelValues("locked").Inc()
		f.deps.Audit.Log(ctx, audit.EventLockout,
			logger.Identifier(identifier),
			logger.Count(failed),
		)
		return ErrLocked
	}
	// el bloqueo venció: desbloqueo perezoso en este mismo intento
	if err := f.deps.Attempts.ClearFailures(ctx, identifier); err != nil {
		return fmt.Errorf("authflow: limpiando fallos: %w", err)
	}
	return nil
}

func (f *Flow) verifyCredentials(ctx context.Context, identifier string, in AttemptInput) (*repository.User, error) {
	now := f.deps.Clock.Now()
	user, err := f.deps.Users.GetByEmail(ctx, identifier)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	var hash *string
	if user != nil {
		hash = user.PasswordHash
	}
	// CheckPassword corre también con hash nil para no filtrar por timing
	// si el identificador existe
	ok := f.deps.Users.CheckPassword(hash, in.Password)
	if user == nil || !ok || user.DisabledAt != nil {
		f.recordAttempt(ctx, identifier, in, false, "invalid_credentials", now)
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		f.deps.Audit.Log(ctx, audit.EventLoginFailure,
			logger.Identifier(identifier),
			logger.ClientIP(in.SourceIP),
		)
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (f *Flow) assess(ctx context.Context, user *repository.User, identifier, fp string, known bool, in AttemptInput, now time.Time) (*risk.Assessment, error) {
	deviceRisk, err := f.deps.Devices.RiskContribution(ctx, user.ID, fp)
	if err != nil {
		return nil, err
	}
	failedFromSource, err := f.deps.Attempts.CountFailedBySource(ctx, in.SourceIP, now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}

	breached := false
	if f.deps.Breach != nil {
		breached = f.deps.Breach.IsBreached(ctx, identifier)
	}

	sig := risk.Signals{
		DeviceKnown:       known,
		DeviceRisk:        deviceRisk,
		FailedFromSource:  failedFromSource,
		TorExit:           in.TorExit,
		Breached:          breached,
		TypicalLoginHours: user.TypicalLoginHours,
		CurrentLocation:   in.Location,
	}
	if prev, perr := f.deps.Attempts.LastSuccess(ctx, identifier); perr == nil {
		sig.LastKnownIP = prev.SourceIP
		if prev.Latitude != nil && prev.Longitude != nil {
			sig.PreviousLocation = &risk.GeoPoint{Lat: *prev.Latitude, Lon: *prev.Longitude}
			sig.PreviousSeenAt = prev.At
		}
	}
	if sig.PreviousSeenAt.IsZero() {
		if sessions, lerr := f.deps.Sessions.List(ctx, user.ID); lerr == nil && len(sessions) > 0 {
			sig.PreviousSeenAt = sessions[0].LastActivityAt
		}
	}

	a := f.deps.Risk.Assess(risk.Context{
		UserID:      user.ID,
		Identifier:  identifier,
		SourceIP:    in.SourceIP,
		UserAgent:   in.UserAgent,
		Headers:     in.Headers,
		Fingerprint: fp,
		At:          now,
	}, sig)
	return &a, nil
}

func (f *Flow) issueMFAChallenge(ctx context.Context, user *repository.User, dev *repository.Device, a *risk.Assessment, in AttemptInput, now time.Time) (*Outcome, error) {
	enabled, err := f.deps.MFA.EnabledMethods(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	allowed := risk.AllowedMethods(a.Level, enabled)
	if len(allowed) == 0 {
		if a.Level.AtLeast(types.RiskHigh) {
			// riesgo alto sin método fuerte enrolado: denegar
			f.recordAttempt(ctx, identifierOf(user, in), in, false, "strong_mfa_unavailable", now)
			metrics.AuthAttempts.WithLabelValues("blocked").Inc()
			return nil, ErrMFAUnavailable
		}
		// riesgo medio sin MFA enrolado: proceder con notificación
		return f.establish(ctx, user, dev, a, in, false, now)
	}

	var devID *string
	if dev != nil {
		devID = &dev.ID
	}
	token, err := f.deps.MFA.IssueChallenge(ctx, mfa.Challenge{
		UserID:    user.ID,
		Methods:   allowed,
		RiskLevel: a.Level,
		DeviceID:  devID,
		Profile:   in.Profile,
	})
	if err != nil {
		return nil, err
	}

	f.recordAttempt(ctx, identifierOf(user, in), in, true, "mfa_pending", now)
	metrics.AuthAttempts.WithLabelValues("mfa_required").Inc()
	return &Outcome{
		Status:         StatusMFARequired,
		ChallengeToken: token,
		Methods:        allowed,
		RiskLevel:      a.Level,
		RiskScore:      a.Score,
	}, nil
}

func (f *Flow) establish(ctx context.Context, user *repository.User, dev *repository.Device, a *risk.Assessment, in AttemptInput, mfaVerified bool, now time.Time) (*Outcome, error) {
	var devID *string
	deviceName := "un dispositivo desconocido"
	if dev != nil {
		devID = &dev.ID
		if dev.Name != "" {
			deviceName = dev.Name
		}
	}

	est, err := f.deps.Sessions.Create(ctx, session.CreateInput{
		UserID:      user.ID,
		DeviceID:    devID,
		Profile:     in.Profile,
		RiskLevel:   a.Level,
		MFAVerified: mfaVerified,
	})
	if err != nil {
		return nil, err
	}

	identifier := identifierOf(user, in)
	if err := f.deps.Attempts.ClearFailures(ctx, identifier); err != nil {
		f.deps.Log.Warn("no se pudieron limpiar los fallos",
			logger.Component("authflow"),
			logger.Identifier(identifier),
			logger.Err(err),
		)
	}
	f.recordAttempt(ctx, identifier, in, true, "success", now)
	_ = f.deps.Users.RecordLoginHour(ctx, user.ID, now.UTC().Hour())

	for _, act := range a.Actions {
		if act == types.ActionNotifyUser && f.deps.Notify != nil {
			f.deps.Notify.NotifyLogin(ctx, user.Email, string(a.Level), deviceName)
			break
		}
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	f.deps.Audit.Log(ctx, audit.EventLoginSuccess,
		logger.UserID(user.ID),
		logger.ClientIP(in.SourceIP),
		logger.RiskLevel(string(a.Level)),
		logger.SessionID(est.Session.ID),
	)

	out := &Outcome{
		Status:    StatusSuccess,
		Session:   est,
		RiskLevel: a.Level,
		RiskScore: a.Score,
	}
	if devID != nil {
		out.DeviceID = *devID
	}
	return out, nil
}

func (f *Flow) recordAttempt(ctx context.Context, identifier string, in AttemptInput, success bool, reason string, now time.Time) {
	a := repository.LoginAttempt{
		Identifier: identifier,
		SourceIP:   in.SourceIP,
		UserAgent:  in.UserAgent,
		Success:    success,
		Reason:     reason,
		At:         now,
	}
	if in.Location != nil {
		lat, lon := in.Location.Lat, in.Location.Lon
		a.Latitude, a.Longitude = &lat, &lon
	}
	if err := f.deps.Attempts.Record(ctx, a); err != nil {
		f.deps.Log.Warn("no se pudo registrar el intento",
			logger.Component("authflow"),
			logger.Identifier(identifier),
			logger.Err(err),
		)
	}
}

func identifierOf(user *repository.User, in AttemptInput) string {
	if user != nil && user.Email != "" {
		return user.Email
	}
	return strings.ToLower(strings.TrimSpace(in.Identifier))
}
