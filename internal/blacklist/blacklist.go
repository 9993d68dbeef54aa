// Package blacklist mantiene el registro de tokens revocados antes de su
// expiración natural y el garbage collector que lo mantiene acotado.
package blacklist

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/medvault/authcore/internal/clock"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/metrics"
	"github.com/medvault/authcore/internal/observability/logger"
)

// Deps son las dependencias del servicio.
type Deps struct {
	Repo  repository.BlacklistRepository
	Clock clock.Clock
	Log   *zap.Logger
}

// Config controla el GC periódico.
type Config struct {
	// SweepInterval: cada cuánto corre la purga (default 5m).
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// SweepBatch: máximo de entradas purgadas por pasada (default 500).
	SweepBatch int `yaml:"sweep_batch"`
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 500
	}
}

// Service expone revocación y consulta de tokens.
type Service struct {
	deps Deps
	cfg  Config
}

// New crea el servicio. Panic si falta alguna dependencia obligatoria.
func New(deps Deps, cfg Config) *Service {
	if deps.Repo == nil {
		panic("blacklist: Repo es obligatorio")
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Service{deps: deps, cfg: cfg}
}

// Revoke agrega un identificador de token a la blacklist. Si el token ya
// venció no hay nada que revocar y la llamada es un no-op.
func (s *Service) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if !expiresAt.After(s.deps.Clock.Now()) {
		return nil
	}
	return s.deps.Repo.Add(ctx, tokenID, expiresAt)
}

// IsRevoked consulta membresía.
func (s *Service) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return s.deps.Repo.Contains(ctx, tokenID)
}

// Run ejecuta el GC hasta que el contexto se cancele.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.deps.Log.Info("blacklist GC iniciado",
		logger.Component("blacklist"),
		zap.Duration("interval", s.cfg.SweepInterval),
		zap.Int("batch", s.cfg.SweepBatch),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce purga en lotes hasta vaciar el backlog vencido o fallar.
func (s *Service) sweepOnce(ctx context.Context) {
	now := s.deps.Clock.Now()
	total := 0
	for {
		n, err := s.deps.Repo.PurgeExpiredBatch(ctx, now, s.cfg.SweepBatch)
		if err != nil {
			s.deps.Log.Warn("purga de blacklist falló",
				logger.Component("blacklist"),
				logger.Err(err),
			)
			return
		}
		total += n
		if n < s.cfg.SweepBatch {
			break
		}
	}
	if total > 0 {
		metrics.BlacklistPurged.Add(float64(total))
		s.deps.Log.Debug("blacklist purgada",
			logger.Component("blacklist"),
			logger.Count(total),
		)
	}
}
