// Package ops expone el servidor operacional: health, readiness y
// métricas Prometheus. No sirve tráfico de autenticación.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/medvault/authcore/internal/metrics"
	"github.com/medvault/authcore/internal/observability/logger"
)

// Pinger verifica la salud de una dependencia (storage, cache).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config del servidor.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Deps del servidor. Checks mapea nombre de dependencia a su pinger;
// un mapa vacío deja el readiness siempre listo.
type Deps struct {
	Checks map[string]Pinger
	Log    *zap.Logger
}

// Server es el servidor operacional.
type Server struct {
	cfg  Config
	deps Deps
	srv  *http.Server
}

// New arma el router y registra las métricas del dominio.
func New(deps Deps, cfg Config) (*Server, error) {
	cfg.applyDefaults()
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if err := metrics.RegisterAuth(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.scopedLogger)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Run sirve hasta que el contexto se cancele y luego apaga con gracia.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.deps.Log.Info("servidor operacional escuchando",
			logger.Component("ops"),
			logger.String("addr", s.cfg.Addr),
		)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutCtx)
}

// scopedLogger inyecta en el contexto un logger con el request id, que
// los handlers recuperan con logger.From.
func (s *Server) scopedLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.deps.Log
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			l = l.With(logger.String("request_id", reqID))
		}
		next.ServeHTTP(w, r.WithContext(logger.ToContext(r.Context(), l)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, p := range s.deps.Checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			logger.From(ctx).Warn("dependencia no lista",
				logger.Component("ops"),
				logger.String("check", name),
				logger.Err(err),
			)
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{
		"status": http.StatusText(status),
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
