// Package app es la raíz de composición: arma el pipeline completo a
// partir de la configuración y expone los componentes al transporte que
// el integrador monte encima.
package app

import (
	"context"
	"crypto/ed25519"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/medvault/authcore/internal/audit"
	"github.com/medvault/authcore/internal/authflow"
	"github.com/medvault/authcore/internal/blacklist"
	"github.com/medvault/authcore/internal/breach"
	cachemem "github.com/medvault/authcore/internal/cache/memory"
	cacheredis "github.com/medvault/authcore/internal/cache/redis"
	"github.com/medvault/authcore/internal/clock"
	"github.com/medvault/authcore/internal/config"
	"github.com/medvault/authcore/internal/device"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/http/ops"
	"github.com/medvault/authcore/internal/mfa"
	"github.com/medvault/authcore/internal/notify"
	"github.com/medvault/authcore/internal/observability/logger"
	"github.com/medvault/authcore/internal/rate"
	"github.com/medvault/authcore/internal/risk"
	"github.com/medvault/authcore/internal/security/secretbox"
	"github.com/medvault/authcore/internal/session"
	"github.com/medvault/authcore/internal/store/memory"
	"github.com/medvault/authcore/internal/store/pg"
	"github.com/medvault/authcore/internal/webauthnx"
)

// Options de construcción.
type Options struct {
	// Migrate aplica el esquema antes de servir (solo postgres).
	Migrate bool
}

// App agrupa los componentes armados. Los campos exportados son la
// superficie programática del núcleo.
type App struct {
	Flow     *authflow.Flow
	Sessions *session.Manager
	MFA      *mfa.Orchestrator
	Devices  *device.Tracker

	blacklist *blacklist.Service
	ops       *ops.Server
	cache     repository.CacheRepository
	closeFn   func()
}

// New arma la aplicación completa desde la configuración.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	clk := clock.NewSystem()

	r, err := buildRepos(ctx, cfg, opts.Migrate)
	if err != nil {
		return nil, err
	}

	var (
		cache   repository.CacheRepository
		limiter rate.Limiter
	)
	if cfg.Cache.Kind == "redis" {
		rc := cacheredis.New(cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix)
		cache = rc
		limiter = rate.NewRedisLimiter(rc.Client(), cfg.Cache.Redis.Prefix+repository.CacheKeyPrefixRateLimit, cfg.Rate.Limits)
		r.checks["cache"] = rc
	} else {
		cache = cachemem.New(cfg.Cache.Memory.DefaultTTL)
		limiter = rate.NewMemoryLimiter(cfg.Rate.Limits, clk)
	}

	seed, err := cfg.SigningKey()
	if err != nil {
		r.close()
		return nil, err
	}
	issuer, err := session.NewIssuer(cfg.JWT.Issuer, ed25519.NewKeyFromSeed(seed), cfg.JWT.AccessTTL)
	if err != nil {
		r.close()
		return nil, err
	}
	masterKey, err := cfg.MasterKey()
	if err != nil {
		r.close()
		return nil, err
	}
	box, err := secretbox.New(masterKey, nil)
	if err != nil {
		r.close()
		return nil, err
	}

	var email notify.EmailSender
	if cfg.SMTP.Host != "" {
		smtp := notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
		smtp.TLSMode = cfg.SMTP.TLS
		smtp.InsecureSkipVerify = cfg.SMTP.InsecureSkipVerify
		email = smtp
	}
	var primary, fallback notify.SMSProvider
	if cfg.SMS.Primary.URL != "" {
		primary = notify.NewHTTPSMSProvider(cfg.SMS.Primary.Name, cfg.SMS.Primary.URL, cfg.SMS.Primary.Token, nil)
	}
	if cfg.SMS.Fallback.URL != "" {
		fallback = notify.NewHTTPSMSProvider(cfg.SMS.Fallback.Name, cfg.SMS.Fallback.URL, cfg.SMS.Fallback.Token, nil)
	}
	channel := notify.NewChannel(primary, fallback, email, logger.Named("notify"))
	auditor := audit.New(logger.Named("audit"))

	bl := blacklist.New(blacklist.Deps{
		Repo:  r.blacklist,
		Clock: clk,
		Log:   logger.Named("blacklist"),
	}, cfg.Sweeper)

	sessions := session.New(session.Deps{
		Sessions:  r.sessions,
		Blacklist: bl,
		Issuer:    issuer,
		Clock:     clk,
		Log:       logger.Named("session"),
		Audit:     auditor,
	}, session.Config{
		Policies:      cfg.SessionPolicies(),
		SweepInterval: cfg.Sessions.Sweep.Interval,
		SweepBatch:    cfg.Sessions.Sweep.Batch,
	})

	tracker := device.NewTracker(device.Deps{
		Devices:  r.devices,
		Sessions: r.sessions,
		Clock:    clk,
	}, cfg.Device)

	engine, err := risk.New(cfg.Risk)
	if err != nil {
		r.close()
		return nil, err
	}

	var verifier mfa.WebAuthnVerifier
	if cfg.WebAuthn.RPID != "" {
		verifier, err = webauthnx.New(cfg.WebAuthn, r.mfa, cache)
		if err != nil {
			r.close()
			return nil, err
		}
	}
	orchestrator := mfa.New(mfa.Deps{
		Repo:     r.mfa,
		Cache:    cache,
		Box:      box,
		SMS:      channel,
		WebAuthn: verifier,
		Clock:    clk,
		Log:      logger.Named("mfa"),
		Audit:    auditor,
	}, cfg.MFA)

	var breachClient authflow.BreachChecker
	if cfg.Breach.BaseURL != "" {
		breachClient = breach.New(cfg.Breach, &http.Client{Timeout: cfg.Breach.Timeout}, logger.Named("breach"))
	}

	flow := authflow.New(authflow.Deps{
		Users:    r.users,
		Attempts: r.attempts,
		Devices:  tracker,
		Risk:     engine,
		MFA:      orchestrator,
		Sessions: sessions,
		Limiter:  limiter,
		Bypass:   rate.NewBypassEvaluator(cfg.Rate.Bypass),
		Breach:   breachClient,
		Notify:   channel,
		Clock:    clk,
		Log:      logger.Named("authflow"),
		Audit:    auditor,
	}, cfg.Flow)

	opsServer, err := ops.New(ops.Deps{
		Checks: r.checks,
		Log:    logger.Named("ops"),
	}, ops.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		r.close()
		return nil, err
	}

	return &App{
		Flow:      flow,
		Sessions:  sessions,
		MFA:       orchestrator,
		Devices:   tracker,
		blacklist: bl,
		ops:       opsServer,
		cache:     cache,
		closeFn:   r.close,
	}, nil
}

// Run sirve el servidor operacional y los sweepers hasta que el
// contexto se cancele.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ops.Run(gctx) })
	g.Go(func() error { a.blacklist.Run(gctx); return nil })
	g.Go(func() error { a.Sessions.Run(gctx); return nil })
	return g.Wait()
}

// Close libera pool y cache.
func (a *App) Close() {
	_ = a.cache.Close()
	a.closeFn()
}

// ─── repos por driver ───

type repos struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	devices   repository.DeviceRepository
	mfa       repository.MFARepository
	attempts  repository.AttemptRepository
	blacklist repository.BlacklistRepository
	checks    map[string]ops.Pinger
	close     func()
}

func buildRepos(ctx context.Context, cfg *config.Config, migrate bool) (*repos, error) {
	if cfg.Storage.Driver != "postgres" {
		return &repos{
			users:     memory.NewUserRepo(),
			sessions:  memory.NewSessionRepo(),
			devices:   memory.NewDeviceRepo(),
			mfa:       memory.NewMFARepo(),
			attempts:  memory.NewAttemptRepo(),
			blacklist: memory.NewBlacklistRepo(),
			checks:    map[string]ops.Pinger{},
			close:     func() {},
		}, nil
	}

	store, err := OpenPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return &repos{
		users:     store.Users(),
		sessions:  store.Sessions(),
		devices:   store.Devices(),
		mfa:       store.MFA(),
		attempts:  store.Attempts(),
		blacklist: store.Blacklist(),
		checks:    map[string]ops.Pinger{"storage": store},
		close:     store.Close,
	}, nil
}

// OpenPostgres abre el pool con la configuración del YAML.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*pg.Store, error) {
	return pg.New(ctx, pg.Config{
		DSN:             cfg.Storage.DSN,
		MaxConns:        cfg.Storage.Postgres.MaxConns,
		MinConns:        cfg.Storage.Postgres.MinConns,
		ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
	})
}
