// Package config carga la configuración del servicio desde YAML con
// overrides por variables de entorno. Los bloques de cada componente se
// delegan en los tipos Config de sus paquetes.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/medvault/authcore/internal/authflow"
	"github.com/medvault/authcore/internal/blacklist"
	"github.com/medvault/authcore/internal/breach"
	"github.com/medvault/authcore/internal/device"
	"github.com/medvault/authcore/internal/domain/types"
	"github.com/medvault/authcore/internal/mfa"
	"github.com/medvault/authcore/internal/rate"
	"github.com/medvault/authcore/internal/risk"
	"github.com/medvault/authcore/internal/session"
	"github.com/medvault/authcore/internal/webauthnx"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		// Addr del servidor operacional (health, readiness, métricas).
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		// Level: debug | info | warn | error
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		// Driver: memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int           `yaml:"max_conns"`
			MinConns        int           `yaml:"min_conns"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// Kind: memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL time.Duration `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	JWT struct {
		Issuer string `yaml:"issuer"`
		// SigningKey: base64(seed ed25519 de 32 bytes). En dev puede
		// generarse con `authcore gen-key`.
		SigningKey string        `yaml:"signing_key"`
		AccessTTL  time.Duration `yaml:"access_ttl"`
	} `yaml:"jwt"`

	Security struct {
		// SecretBoxMasterKey: base64(32 bytes) para cifrar secretos TOTP y
		// payloads efímeros de MFA.
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
	} `yaml:"security"`

	// Bloques delegados en los paquetes de dominio.
	Risk     risk.Config      `yaml:"risk"`
	Device   device.Config    `yaml:"device"`
	MFA      mfa.Config       `yaml:"mfa"`
	Flow     authflow.Config  `yaml:"flow"`
	Breach   breach.Config    `yaml:"breach"`
	WebAuthn webauthnx.Config `yaml:"webauthn"`
	Sweeper  blacklist.Config `yaml:"blacklist"`
	Sessions struct {
		Profiles map[string]ProfilePolicy `yaml:"profiles"`
		Sweep    struct {
			Interval time.Duration `yaml:"interval"`
			Batch    int           `yaml:"batch"`
		} `yaml:"sweep"`
	} `yaml:"sessions"`

	Rate struct {
		Limits rate.Limits       `yaml:"limits"`
		Bypass []rate.BypassRule `yaml:"bypass"`
	} `yaml:"rate"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"`                  // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // sólo dev
	} `yaml:"smtp"`

	SMS struct {
		Primary  SMSProvider `yaml:"primary"`
		Fallback SMSProvider `yaml:"fallback"`
	} `yaml:"sms"`
}

// ProfilePolicy es la forma YAML de session.ProfilePolicy.
type ProfilePolicy struct {
	AccessTTL     time.Duration `yaml:"access_ttl"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	AbsoluteTTL   time.Duration `yaml:"absolute_ttl"`
	RenewalWindow time.Duration `yaml:"renewal_window"`
}

// SMSProvider configura un gateway HTTP de SMS.
type SMSProvider struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load lee el YAML, aplica defaults, pisa con env y valida.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parseando %s: %w", path, err)
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9090"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Postgres.MaxConns <= 0 {
		c.Storage.Postgres.MaxConns = 10
	}
	if c.Storage.Postgres.ConnMaxLifetime <= 0 {
		c.Storage.Postgres.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL <= 0 {
		c.Cache.Memory.DefaultTTL = 10 * time.Minute
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "authcore:"
	}
	if c.JWT.AccessTTL <= 0 {
		c.JWT.AccessTTL = 15 * time.Minute
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}
}

// SessionPolicies traduce el bloque YAML a las políticas del manager.
// Los perfiles no configurados usan los defaults del paquete session.
func (c *Config) SessionPolicies() map[types.SessionProfile]session.ProfilePolicy {
	if len(c.Sessions.Profiles) == 0 {
		return nil
	}
	out := make(map[types.SessionProfile]session.ProfilePolicy, len(c.Sessions.Profiles))
	for name, p := range c.Sessions.Profiles {
		out[types.SessionProfile(name)] = session.ProfilePolicy{
			AccessTTL:     p.AccessTTL,
			IdleTTL:       p.IdleTTL,
			AbsoluteTTL:   p.AbsoluteTTL,
			RenewalWindow: p.RenewalWindow,
		}
	}
	return out
}

// SigningKey decodifica la seed ed25519 del JWT.
func (c *Config) SigningKey() ([]byte, error) {
	return decodeKey(c.JWT.SigningKey, "jwt.signing_key")
}

// MasterKey decodifica la clave maestra del secretbox.
func (c *Config) MasterKey() ([]byte, error) {
	return decodeKey(c.Security.SecretBoxMasterKey, "security.secretbox_master_key")
}

func decodeKey(b64, name string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("config: %s: base64 inválido: %w", name, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("config: %s: se esperaban 32 bytes, hay %d", name, len(raw))
	}
	return raw, nil
}

// Validate chequea los valores críticos.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("config: storage.driver %q no soportado", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("config: storage.dsn es obligatorio con driver postgres")
	}
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: cache.kind %q no soportado", c.Cache.Kind)
	}
	if c.Cache.Kind == "redis" && strings.TrimSpace(c.Cache.Redis.Addr) == "" {
		return fmt.Errorf("config: cache.redis.addr es obligatorio con kind redis")
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		return fmt.Errorf("config: jwt.issuer es obligatorio")
	}
	if _, err := c.SigningKey(); err != nil {
		return err
	}
	if _, err := c.MasterKey(); err != nil {
		return err
	}

	// en prod el fail-open del breach check sigue, pero sin TLS no hay servicio
	if strings.EqualFold(c.App.Env, "prod") && c.Breach.BaseURL != "" &&
		!strings.HasPrefix(c.Breach.BaseURL, "https://") {
		return fmt.Errorf("config: breach.base_url debe ser https en prod")
	}
	return nil
}

// ─── helpers env ───

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides pisa el YAML con variables de entorno. Los secretos
// (DSN, claves, tokens) normalmente llegan por acá y no por el archivo.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = v
	}

	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}

	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvStr("JWT_SIGNING_KEY"); ok {
		c.JWT.SigningKey = v
	}
	if v, ok := getEnvDur("JWT_ACCESS_TTL"); ok {
		c.JWT.AccessTTL = v
	}
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}

	if v, ok := getEnvStr("BREACH_BASE_URL"); ok {
		c.Breach.BaseURL = v
	}

	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMS_PRIMARY_TOKEN"); ok {
		c.SMS.Primary.Token = v
	}
	if v, ok := getEnvStr("SMS_FALLBACK_TOKEN"); ok {
		c.SMS.Fallback.Token = v
	}
}
