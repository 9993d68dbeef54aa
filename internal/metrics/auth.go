package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Auth-related Prometheus metrics. Defined in a standalone package to avoid
// import cycles between the flow, session and rate packages.

var (
	AuthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_auth_attempts_total",
		Help: "Intentos de autenticación por resultado (success, failure, blocked, mfa_required, rate_limited, locked)",
	}, []string{"outcome"})

	RiskScoreObserved = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "authcore_risk_score",
		Help:    "Distribución del score de riesgo calculado",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	RiskLevelTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_risk_level_total",
		Help: "Evaluaciones de riesgo por nivel",
	}, []string{"level"})

	MFAVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_mfa_verifications_total",
		Help: "Verificaciones MFA por método y resultado",
	}, []string{"method", "outcome"})

	RateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authcore_rate_limit_rejections_total",
		Help: "Requests rechazados por rate limiting",
	})

	RateBypassMatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_rate_bypass_matches_total",
		Help: "Matches de reglas de bypass por regla",
	}, []string{"rule"})

	ReplayIncidents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authcore_refresh_replay_incidents_total",
		Help: "Reusos de refresh token detectados (incidentes de seguridad)",
	})

	SessionsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authcore_sessions_swept_total",
		Help: "Sesiones expiradas eliminadas por el sweeper",
	})

	BlacklistPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authcore_blacklist_purged_total",
		Help: "Entradas vencidas purgadas de la blacklist",
	})
)

// RegisterAuth registers the auth metrics on the given registry (or default if nil).
func RegisterAuth(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		AuthAttempts,
		RiskScoreObserved,
		RiskLevelTotal,
		MFAVerifications,
		RateLimitRejections,
		RateBypassMatches,
		ReplayIncidents,
		SessionsSwept,
		BlacklistPurged,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
