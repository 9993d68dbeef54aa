// Package device implementa el tracking de dispositivos por usuario:
// fingerprinting, estado de confianza con expiración y la sub-contribución
// de riesgo que consume el motor de scoring.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medvault/authcore/internal/audit"
	"github.com/medvault/authcore/internal/clock"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/observability/logger"
)

var (
	// ErrTrustCapReached indica que el usuario alcanzó el máximo de
	// dispositivos confiables.
	ErrTrustCapReached = errors.New("trusted device cap reached")

	// ErrDeviceMismatch indica que el dispositivo no pertenece al usuario.
	ErrDeviceMismatch = errors.New("device does not belong to user")

	// ErrDeviceInUse indica que hay sesiones activas referenciando el dispositivo.
	ErrDeviceInUse = errors.New("device has active sessions")
)

// Config del tracker.
type Config struct {
	// TrustedDeviceCap: máximo de dispositivos confiables por usuario.
	TrustedDeviceCap int `yaml:"trusted_device_cap"`

	// DefaultTrustDays: duración de la confianza si el caller no la fija.
	DefaultTrustDays int `yaml:"default_trust_days"`
}

func (c *Config) applyDefaults() {
	if c.TrustedDeviceCap <= 0 {
		c.TrustedDeviceCap = 10
	}
	if c.DefaultTrustDays <= 0 {
		c.DefaultTrustDays = 30
	}
}

// Deps contiene las dependencias del tracker.
type Deps struct {
	Devices  repository.DeviceRepository
	Sessions repository.SessionRepository
	Clock    clock.Clock
}

// Tracker gestiona dispositivos y su estado de confianza.
type Tracker struct {
	deps Deps
	cfg  Config
}

// NewTracker crea un Tracker.
func NewTracker(deps Deps, cfg Config) *Tracker {
	cfg.applyDefaults()
	return &Tracker{deps: deps, cfg: cfg}
}

// ResolveOrCreate busca el dispositivo del usuario por fingerprint;
// actualiza last_seen/login_count si existe, o lo registra (no confiable)
// si es la primera vez que se ve.
func (t *Tracker) ResolveOrCreate(ctx context.Context, userID, fingerprint, userAgent string) (*repository.Device, bool, error) {
	now := t.deps.Clock.Now()

	dev, err := t.deps.Devices.GetByFingerprint(ctx, userID, fingerprint)
	switch {
	case err == nil:
		if err := t.deps.Devices.TouchSeen(ctx, dev.ID, now); err != nil {
			return nil, false, fmt.Errorf("touch device: %w", err)
		}
		dev.LastSeenAt = now
		dev.LoginCount++
		return dev, false, nil
	case !repository.IsNotFound(err):
		return nil, false, fmt.Errorf("lookup device: %w", err)
	}

	devType, platform, browser := parseUserAgent(userAgent)
	created, err := t.deps.Devices.Create(ctx, repository.CreateDeviceInput{
		UserID:      userID,
		Fingerprint: fingerprint,
		Name:        fmt.Sprintf("%s %s en %s", browser, devType, platform),
		Type:        devType,
		Platform:    platform,
		Browser:     browser,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create device: %w", err)
	}

	audit.Log(ctx, audit.EventDeviceRegistered,
		logger.UserID(userID),
		logger.DeviceID(created.ID),
		logger.Fingerprint(fingerprint),
	)
	return created, true, nil
}

// Trust marca un dispositivo como confiable por durationDays (0 = default).
// Falla con ErrTrustCapReached sin mutar nada si el cap ya está alcanzado.
func (t *Tracker) Trust(ctx context.Context, userID, deviceID string, durationDays int) error {
	dev, err := t.deps.Devices.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev.UserID != userID {
		return ErrDeviceMismatch
	}

	now := t.deps.Clock.Now()
	if !t.trustedNow(dev, now) {
		n, err := t.deps.Devices.CountTrusted(ctx, userID, now)
		if err != nil {
			return fmt.Errorf("count trusted: %w", err)
		}
		if n >= t.cfg.TrustedDeviceCap {
			return ErrTrustCapReached
		}
	}

	if durationDays <= 0 {
		durationDays = t.cfg.DefaultTrustDays
	}
	expires := now.Add(time.Duration(durationDays) * 24 * time.Hour)
	if err := t.deps.Devices.SetTrust(ctx, deviceID, true, &now, &expires); err != nil {
		return fmt.Errorf("set trust: %w", err)
	}

	audit.Log(ctx, audit.EventDeviceTrusted,
		logger.UserID(userID),
		logger.DeviceID(deviceID),
		logger.String("trust_expires_at", expires.Format(time.RFC3339)),
	)
	return nil
}

// RevokeTrust revoca la confianza de un dispositivo.
func (t *Tracker) RevokeTrust(ctx context.Context, userID, deviceID string) error {
	dev, err := t.deps.Devices.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev.UserID != userID {
		return ErrDeviceMismatch
	}
	if err := t.deps.Devices.SetTrust(ctx, deviceID, false, nil, nil); err != nil {
		return fmt.Errorf("revoke trust: %w", err)
	}
	audit.Log(ctx, audit.EventDeviceRevoked, logger.UserID(userID), logger.DeviceID(deviceID))
	return nil
}

// IsTrusted verifica la confianza vigente. La expiración es lazy: si
// now > trust_expiry el flag se apaga acá mismo, sin esperar un sweeper.
func (t *Tracker) IsTrusted(ctx context.Context, userID, fingerprint string) (bool, error) {
	dev, err := t.deps.Devices.GetByFingerprint(ctx, userID, fingerprint)
	if repository.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := t.deps.Clock.Now()
	if dev.Trusted && dev.TrustExpiresAt != nil && now.After(*dev.TrustExpiresAt) {
		// confianza vencida: revertir a no confiable
		if err := t.deps.Devices.SetTrust(ctx, dev.ID, false, nil, nil); err != nil {
			return false, fmt.Errorf("expire trust: %w", err)
		}
		return false, nil
	}
	return t.trustedNow(dev, now), nil
}

// Delete elimina un dispositivo solo si ninguna sesión activa lo referencia.
func (t *Tracker) Delete(ctx context.Context, userID, deviceID string) error {
	dev, err := t.deps.Devices.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev.UserID != userID {
		return ErrDeviceMismatch
	}
	n, err := t.deps.Sessions.CountActiveByDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("count sessions: %w", err)
	}
	if n > 0 {
		return ErrDeviceInUse
	}
	return t.deps.Devices.Delete(ctx, deviceID)
}

// RiskContribution combina confianza, antigüedad, frecuencia y recencia de
// uso en una sub-contribución en [0,1] que consume el motor de riesgo.
// 0 = dispositivo confiable y fresco; 1 = fingerprint desconocido.
func (t *Tracker) RiskContribution(ctx context.Context, userID, fingerprint string) (float64, error) {
	dev, err := t.deps.Devices.GetByFingerprint(ctx, userID, fingerprint)
	if repository.IsNotFound(err) {
		return 1.0, nil
	}
	if err != nil {
		return 1.0, err
	}

	now := t.deps.Clock.Now()
	if t.trustedNow(dev, now) {
		return 0.0, nil
	}

	// Conocido pero no confiable: base alta, descuentos por historial.
	score := 0.8

	if now.Sub(dev.FirstSeenAt) > 30*24*time.Hour {
		score -= 0.2 // antigüedad
	}
	if dev.LoginCount >= 10 {
		score -= 0.2 // frecuencia de uso
	}
	if now.Sub(dev.LastSeenAt) <= 7*24*time.Hour {
		score -= 0.2 // uso reciente
	}

	if score < 0.1 {
		score = 0.1
	}
	return score, nil
}

// trustedNow evalúa el flag contra la expiración sin mutar.
func (t *Tracker) trustedNow(dev *repository.Device, now time.Time) bool {
	if !dev.Trusted {
		return false
	}
	if dev.TrustExpiresAt != nil && now.After(*dev.TrustExpiresAt) {
		return false
	}
	return true
}
