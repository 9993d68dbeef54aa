// Package notify es el canal de notificaciones de autenticación: SMS para
// códigos de verificación y email para avisos de seguridad. El failover
// entre proveedores SMS es responsabilidad de este canal; si el principal
// y el fallback fallan, el envío falla cerrado.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/medvault/authcore/internal/observability/logger"
)

// ErrDeliveryFailed: ningún proveedor pudo entregar el mensaje.
var ErrDeliveryFailed = errors.New("notify: entrega fallida")

// SMSProvider entrega un SMS por un proveedor concreto.
type SMSProvider interface {
	Name() string
	Send(ctx context.Context, phone, body string) error
}

// EmailSender entrega un email.
type EmailSender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// Channel compone SMS con failover y email.
type Channel struct {
	primary  SMSProvider
	fallback SMSProvider
	email    EmailSender
	log      *zap.Logger
}

// NewChannel crea el canal. fallback y email pueden ser nil.
func NewChannel(primary, fallback SMSProvider, email EmailSender, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{primary: primary, fallback: fallback, email: email, log: log}
}

// SendSMS intenta el proveedor principal y, si falla, el fallback. Sin
// entrega por ningún proveedor el error se propaga (fail-closed): un
// código SMS no enviado no puede darse por emitido.
func (c *Channel) SendSMS(ctx context.Context, phone, body string) error {
	if c.primary == nil {
		return fmt.Errorf("%w: sin proveedor SMS configurado", ErrDeliveryFailed)
	}

	err := c.primary.Send(ctx, phone, body)
	if err == nil {
		return nil
	}
	c.log.Warn("proveedor SMS principal falló",
		logger.Component("notify"),
		logger.String("provider", c.primary.Name()),
		logger.Err(err),
	)

	if c.fallback == nil {
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
	}
	if ferr := c.fallback.Send(ctx, phone, body); ferr != nil {
		c.log.Error("proveedor SMS fallback también falló",
			logger.Component("notify"),
			logger.String("provider", c.fallback.Name()),
			logger.Err(ferr),
		)
		return fmt.Errorf("%w: %s / %s", ErrDeliveryFailed, err, ferr)
	}
	return nil
}

// SendEmail entrega un aviso por email.
func (c *Channel) SendEmail(_ context.Context, to, subject, htmlBody, textBody string) error {
	if c.email == nil {
		return fmt.Errorf("%w: sin sender de email configurado", ErrDeliveryFailed)
	}
	if err := c.email.Send(to, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
	}
	return nil
}

// NotifyLogin avisa al usuario de un login con riesgo elevado. El aviso es
// best-effort: un fallo acá no corta la autenticación, solo se loguea.
func (c *Channel) NotifyLogin(ctx context.Context, email, riskLevel, deviceName string) {
	if c.email == nil || email == "" {
		return
	}
	subject := "Nuevo inicio de sesión en tu cuenta"
	text := fmt.Sprintf(
		"Detectamos un inicio de sesión desde %s (riesgo %s). Si no fuiste vos, cambiá tu contraseña.",
		deviceName, riskLevel,
	)
	if err := c.SendEmail(ctx, email, subject, "", text); err != nil {
		c.log.Warn("aviso de login no entregado",
			logger.Component("notify"),
			logger.Err(err),
		)
	}
}
