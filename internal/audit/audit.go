// Package audit emite eventos de seguridad estructurados. Hoy el sink es el
// logger zap; el formato de campos es estable para poder enchufar un sink
// externo (SIEM) sin tocar a los emisores.
package audit

import (
	"context"

	"github.com/medvault/authcore/internal/observability/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event identifica un evento de seguridad auditable.
type Event string

const (
	EventLoginSuccess     Event = "auth.login.success"
	EventLoginFailure     Event = "auth.login.failure"
	EventLoginBlocked     Event = "auth.login.blocked"
	EventLockout          Event = "auth.lockout"
	EventRateLimited      Event = "auth.rate_limited"
	EventBypassMatched    Event = "auth.rate_bypass"
	EventMFAChallenge     Event = "auth.mfa.challenge"
	EventMFAVerified      Event = "auth.mfa.verified"
	EventMFAFailed        Event = "auth.mfa.failed"
	EventMFAEnrolled      Event = "auth.mfa.enrolled"
	EventDeviceRegistered Event = "auth.device.registered"
	EventDeviceTrusted    Event = "auth.device.trusted"
	EventDeviceRevoked    Event = "auth.device.revoked"
	EventSessionCreated   Event = "auth.session.created"
	EventSessionRenewed   Event = "auth.session.renewed"
	EventSessionRevoked   Event = "auth.session.revoked"
	EventReplayDetected   Event = "auth.replay_detected"
)

// severity mapea eventos a nivel de log. Replay e lockout suben a Warn/Error.
func severity(e Event) zapcore.Level {
	switch e {
	case EventReplayDetected:
		return zapcore.ErrorLevel
	case EventLockout, EventLoginBlocked, EventMFAFailed:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Log emite un evento de auditoría usando el logger del contexto.
func Log(ctx context.Context, e Event, fields ...zap.Field) {
	emit(logger.From(ctx), e, fields)
}

// Auditor es el sink explícito que reciben los servicios por inyección.
// Construido una vez en el arranque; nil-safe vía NewNop en tests.
type Auditor struct {
	log *zap.Logger
}

// New crea un Auditor sobre el logger dado.
func New(l *zap.Logger) *Auditor {
	if l == nil {
		l = zap.NewNop()
	}
	return &Auditor{log: l}
}

// NewNop crea un Auditor que descarta todo (tests).
func NewNop() *Auditor { return &Auditor{log: zap.NewNop()} }

// Log emite un evento de auditoría con campos adicionales.
func (a *Auditor) Log(_ context.Context, e Event, fields ...zap.Field) {
	emit(a.log, e, fields)
}

func emit(l *zap.Logger, e Event, fields []zap.Field) {
	l = l.Named("audit")
	all := make([]zap.Field, 0, len(fields)+1)
	all = append(all, zap.String("event", string(e)))
	all = append(all, fields...)

	switch severity(e) {
	case zapcore.ErrorLevel:
		l.Error(string(e), all...)
	case zapcore.WarnLevel:
		l.Warn(string(e), all...)
	default:
		l.Info(string(e), all...)
	}
}
