// Package session implementa el ciclo de vida de sesiones: emisión,
// validación, renovación, rotación de refresh tokens con detección de
// replay, y el sweeper de sesiones vencidas.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medvault/authcore/internal/audit"
	"github.com/medvault/authcore/internal/blacklist"
	"github.com/medvault/authcore/internal/clock"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
	"github.com/medvault/authcore/internal/metrics"
	"github.com/medvault/authcore/internal/observability/logger"
	tokens "github.com/medvault/authcore/internal/security/token"

	"github.com/google/uuid"
)

const refreshTokenBytes = 32

// Razones de invalidación persistidas en la sesión.
const (
	ReasonLogout          = "logout"
	ReasonIdleTimeout     = "idle_timeout"
	ReasonAbsoluteTimeout = "absolute_timeout"
	ReasonReplayDetected  = "replay_detected"
	ReasonAdminRevoked    = "admin_revoked"
)

var (
	// ErrSessionInvalid: la sesión no existe, está inactiva o venció.
	ErrSessionInvalid = errors.New("session: sesión inválida")
	// ErrNotRenewable: la renovación se pidió fuera de la ventana permitida.
	ErrNotRenewable = errors.New("session: fuera de la ventana de renovación")
	// ErrReplayDetected: se presentó un refresh token ya consumido.
	ErrReplayDetected = errors.New("session: reuso de refresh token detectado")
)

// Deps son las dependencias del Manager.
type Deps struct {
	Sessions  repository.SessionRepository
	Blacklist *blacklist.Service
	Issuer    *Issuer
	Clock     clock.Clock
	Log       *zap.Logger
	Audit     *audit.Auditor
}

// Config del manager.
type Config struct {
	// Policies por perfil; los perfiles ausentes usan DefaultPolicies.
	Policies map[types.SessionProfile]ProfilePolicy `yaml:"profiles"`
	// SweepInterval del sweeper de sesiones vencidas (default 10m).
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// SweepBatch: máximo de sesiones eliminadas por pasada (default 500).
	SweepBatch int `yaml:"sweep_batch"`
}

func (c *Config) applyDefaults() {
	defaults := DefaultPolicies()
	if c.Policies == nil {
		c.Policies = defaults
	} else {
		for p, pol := range defaults {
			if _, ok := c.Policies[p]; !ok {
				c.Policies[p] = pol
			}
		}
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 500
	}
}

// Manager gestiona sesiones.
type Manager struct {
	deps Deps
	cfg  Config
}

// New construye el Manager. Panic si falta una dependencia obligatoria.
func New(deps Deps, cfg Config) *Manager {
	if deps.Sessions == nil || deps.Blacklist == nil || deps.Issuer == nil {
		panic("session: Sessions, Blacklist e Issuer son obligatorios")
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
	return &Manager{deps: deps, cfg: cfg}
}

// CreateInput describe la sesión a crear.
type CreateInput struct {
	UserID      string
	DeviceID    *string
	Profile     types.SessionProfile
	RiskLevel   types.RiskLevel
	MFAVerified bool
}

// Established es una sesión recién creada o rotada, con sus tokens en claro.
// Los tokens solo existen acá; el repositorio guarda hashes.
type Established struct {
	Session      *repository.Session
	AccessToken  string
	RefreshToken string
	AccessExpiry time.Time
}

// Create emite una sesión nueva con access token (JWT EdDSA) y refresh
// token opaco. El refresh se persiste hasheado.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Established, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: falta user id", repository.ErrInvalidInput)
	}
	if !in.Profile.IsValid() {
		return nil, fmt.Errorf("%w: perfil %q", repository.ErrInvalidInput, in.Profile)
	}
	pol := m.cfg.Policies[in.Profile]
	now := m.deps.Clock.Now()
	id := uuid.NewString()

	access, jti, accessExp, err := m.deps.Issuer.IssueAccess(in.UserID, id, string(in.Profile), now, pol.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := tokens.GenerateOpaqueTokenFrom(m.deps.Clock.Rand(), refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("session: generando refresh token: %w", err)
	}

	absolute := now.Add(pol.AbsoluteTTL)
	sess, err := m.deps.Sessions.Create(ctx, repository.CreateSessionInput{
		ID:                id,
		UserID:            in.UserID,
		DeviceID:          in.DeviceID,
		AccessJTI:         jti,
		RefreshHash:       tokens.SHA256Base64URL(refresh),
		Profile:           in.Profile,
		RiskLevel:         in.RiskLevel,
		MFAVerified:       in.MFAVerified,
		CreatedAt:         now,
		IdleExpiresAt:     clampIdle(now.Add(pol.IdleTTL), absolute),
		AbsoluteExpiresAt: absolute,
	})
	if err != nil {
		return nil, err
	}

	m.deps.Audit.Log(ctx, audit.EventSessionCreated,
		logger.UserID(in.UserID),
		logger.SessionID(sess.ID),
		logger.RiskLevel(string(in.RiskLevel)),
		logger.String("profile", string(in.Profile)),
	)
	return &Established{
		Session:      sess,
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExpiry: accessExp,
	}, nil
}

// Validate verifica un access token y la vigencia de su sesión. Una sesión
// vale si está activa y now < idle_expiry; si el idle venció acá mismo se
// marca inactiva (expiración perezosa). En éxito actualiza last_activity.
func (m *Manager) Validate(ctx context.Context, accessToken string) (*repository.Session, error) {
	now := m.deps.Clock.Now()
	claims, err := m.deps.Issuer.ParseAccess(accessToken, now)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	revoked, err := m.deps.Blacklist.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return nil, fmt.Errorf("session: consultando blacklist: %w", err)
	}
	if revoked {
		return nil, ErrSessionInvalid
	}

	sess, err := m.deps.Sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if !sess.Active || sess.AccessJTI != claims.JTI {
		return nil, ErrSessionInvalid
	}
	if reason, expired := m.expiryReason(sess, now); expired {
		// efecto lateral: marcar inactiva al detectar el vencimiento
		if ierr := m.deps.Sessions.Invalidate(ctx, sess.ID, reason); ierr != nil {
			m.deps.Log.Warn("no se pudo marcar la sesión como vencida",
				logger.Component("session"),
				logger.SessionID(sess.ID),
				logger.Err(ierr),
			)
		}
		return nil, ErrSessionInvalid
	}

	la := now
	updated, err := m.deps.Sessions.Update(ctx, repository.UpdateSessionInput{
		ID:               sess.ID,
		ExpectedRotation: sess.RotationCount,
		LastActivityAt:   &la,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleUpdate) {
			// otro request concurrente ya tocó la sesión; su estado sigue válido
			return sess, nil
		}
		return nil, err
	}
	return updated, nil
}

// Renew extiende el idle-expiry de una sesión válida. Solo se permite
// dentro de la ventana de renovación previa al idle-expiry; nunca extiende
// el absolute-expiry. Incrementa el contador de rotación (CAS).
func (m *Manager) Renew(ctx context.Context, sessionID string) (*repository.Session, error) {
	now := m.deps.Clock.Now()
	sess, err := m.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if !sess.Active || !now.Before(sess.IdleExpiresAt) || !now.Before(sess.AbsoluteExpiresAt) {
		return nil, ErrSessionInvalid
	}

	pol := m.cfg.Policies[sess.Profile]
	if sess.IdleExpiresAt.Sub(now) > pol.RenewalWindow {
		return nil, ErrNotRenewable
	}

	newIdle := clampIdle(now.Add(pol.IdleTTL), sess.AbsoluteExpiresAt)
	rot := sess.RotationCount + 1
	updated, err := m.deps.Sessions.Update(ctx, repository.UpdateSessionInput{
		ID:               sess.ID,
		ExpectedRotation: sess.RotationCount,
		IdleExpiresAt:    &newIdle,
		LastActivityAt:   &now,
		RotationCount:    &rot,
	})
	if err != nil {
		return nil, err
	}

	m.deps.Audit.Log(ctx, audit.EventSessionRenewed,
		logger.UserID(sess.UserID),
		logger.SessionID(sess.ID),
	)
	return updated, nil
}

// RotateRefresh canjea un refresh token por tokens nuevos. El token viejo
// queda en la blacklist en el acto. Presentar un token ya consumido es un
// incidente: se invalidan TODAS las sesiones del usuario.
func (m *Manager) RotateRefresh(ctx context.Context, refreshToken string) (*Established, error) {
	now := m.deps.Clock.Now()
	hash := tokens.SHA256Base64URL(refreshToken)

	sess, err := m.deps.Sessions.GetByRefreshHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if sess.RefreshHash != hash {
		// el hash pertenece al linaje pero ya fue rotado: replay
		return nil, m.handleReplay(ctx, sess)
	}
	if !sess.Active {
		return nil, ErrSessionInvalid
	}
	if !now.Before(sess.AbsoluteExpiresAt) {
		_ = m.deps.Sessions.Invalidate(ctx, sess.ID, ReasonAbsoluteTimeout)
		return nil, ErrSessionInvalid
	}

	pol := m.cfg.Policies[sess.Profile]
	access, jti, accessExp, err := m.deps.Issuer.IssueAccess(sess.UserID, sess.ID, string(sess.Profile), now, pol.AccessTTL)
	if err != nil {
		return nil, err
	}
	newRefresh, err := tokens.GenerateOpaqueTokenFrom(m.deps.Clock.Rand(), refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("session: generando refresh token: %w", err)
	}
	newHash := tokens.SHA256Base64URL(newRefresh)
	newIdle := clampIdle(now.Add(pol.IdleTTL), sess.AbsoluteExpiresAt)
	rot := sess.RotationCount + 1

	updated, err := m.deps.Sessions.Update(ctx, repository.UpdateSessionInput{
		ID:               sess.ID,
		ExpectedRotation: sess.RotationCount,
		AccessJTI:        &jti,
		RefreshHash:      &newHash,
		IdleExpiresAt:    &newIdle,
		LastActivityAt:   &now,
		RotationCount:    &rot,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleUpdate) {
			// perdimos la carrera: alguien más rotó este token primero
			return nil, m.handleReplay(ctx, sess)
		}
		return nil, err
	}

	// el token viejo y su jti quedan revocados hasta su expiración natural
	if err := m.deps.Blacklist.Revoke(ctx, hash, sess.AbsoluteExpiresAt); err != nil {
		return nil, fmt.Errorf("session: revocando refresh anterior: %w", err)
	}
	_ = m.deps.Blacklist.Revoke(ctx, sess.AccessJTI, now.Add(pol.AccessTTL))

	return &Established{
		Session:      updated,
		AccessToken:  access,
		RefreshToken: newRefresh,
		AccessExpiry: accessExp,
	}, nil
}

// handleReplay invalida todas las sesiones del dueño del token replayado.
func (m *Manager) handleReplay(ctx context.Context, sess *repository.Session) error {
	metrics.ReplayIncidents.Inc()

	n, terr := m.deps.Sessions.InvalidateAllByUser(ctx, sess.UserID, ReasonReplayDetected, "")
	if terr != nil {
		m.deps.Log.Error("no se pudieron invalidar las sesiones tras replay",
			logger.Component("session"),
			logger.UserID(sess.UserID),
			logger.Err(terr),
		)
	}
	m.deps.Audit.Log(ctx, audit.EventReplayDetected,
		logger.UserID(sess.UserID),
		logger.SessionID(sess.ID),
		logger.Count(n),
	)
	return ErrReplayDetected
}

// Terminate invalida una sesión y revoca su access token vigente.
func (m *Manager) Terminate(ctx context.Context, sessionID, reason string) error {
	sess, err := m.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionInvalid
		}
		return err
	}
	if reason == "" {
		reason = ReasonLogout
	}
	if err := m.deps.Sessions.Invalidate(ctx, sessionID, reason); err != nil {
		return err
	}
	pol := m.cfg.Policies[sess.Profile]
	_ = m.deps.Blacklist.Revoke(ctx, sess.AccessJTI, m.deps.Clock.Now().Add(pol.AccessTTL))

	m.deps.Audit.Log(ctx, audit.EventSessionRevoked,
		logger.UserID(sess.UserID),
		logger.SessionID(sessionID),
		logger.Reason(reason),
	)
	return nil
}

// TerminateAll invalida todas las sesiones de un usuario, opcionalmente
// exceptuando una (ej: la que origina el pedido).
func (m *Manager) TerminateAll(ctx context.Context, userID, reason, exceptID string) (int, error) {
	if reason == "" {
		reason = ReasonAdminRevoked
	}
	n, err := m.deps.Sessions.InvalidateAllByUser(ctx, userID, reason, exceptID)
	if err != nil {
		return 0, err
	}
	m.deps.Audit.Log(ctx, audit.EventSessionRevoked,
		logger.UserID(userID),
		logger.Reason(reason),
		logger.Count(n),
	)
	return n, nil
}

// List devuelve las sesiones del usuario, activas primero.
func (m *Manager) List(ctx context.Context, userID string) ([]repository.Session, error) {
	return m.deps.Sessions.ListByUser(ctx, userID)
}

// expiryReason determina si la sesión venció y por qué.
func (m *Manager) expiryReason(s *repository.Session, now time.Time) (string, bool) {
	if !now.Before(s.AbsoluteExpiresAt) {
		return ReasonAbsoluteTimeout, true
	}
	if !now.Before(s.IdleExpiresAt) {
		return ReasonIdleTimeout, true
	}
	return "", false
}

// Run ejecuta el sweeper de sesiones vencidas hasta cancelación del contexto.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	m.deps.Log.Info("session sweeper iniciado",
		logger.Component("session"),
		zap.Duration("interval", m.cfg.SweepInterval),
		zap.Int("batch", m.cfg.SweepBatch),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

// sweepOnce elimina sesiones vencidas en lotes acotados.
func (m *Manager) sweepOnce(ctx context.Context) {
	now := m.deps.Clock.Now()
	total := 0
	for {
		n, err := m.deps.Sessions.DeleteExpiredBatch(ctx, now, m.cfg.SweepBatch)
		if err != nil {
			m.deps.Log.Warn("sweep de sesiones falló",
				logger.Component("session"),
				logger.Err(err),
			)
			return
		}
		total += n
		if n < m.cfg.SweepBatch {
			break
		}
	}
	if total > 0 {
		metrics.SessionsSwept.Add(float64(total))
		m.deps.Log.Debug("sesiones vencidas eliminadas",
			logger.Component("session"),
			logger.Count(total),
		)
	}
}
