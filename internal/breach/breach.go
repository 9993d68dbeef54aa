// Package breach consulta un servicio externo de credenciales comprometidas.
// La política es fail-open: ante timeout o error del servicio se reporta
// "no comprometida" en vez de frenar la autenticación por una señal
// accesoria (disponibilidad sobre una mejora no crítica).
package breach

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/medvault/authcore/internal/observability/logger"
	tokens "github.com/medvault/authcore/internal/security/token"
)

// Config del cliente.
type Config struct {
	// BaseURL del servicio de breach-check; vacío deshabilita el chequeo.
	BaseURL string `yaml:"base_url"`
	// Timeout por consulta (default 2s). Nunca bloquea el pipeline entero.
	Timeout time.Duration `yaml:"timeout"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
}

// Client consulta el servicio. Consultas idénticas concurrentes se
// colapsan en un solo request (singleflight).
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
	sf   singleflight.Group
}

// New crea el cliente. httpClient nil usa uno propio con el timeout de la config.
func New(cfg Config, httpClient *http.Client, log *zap.Logger) *Client {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, log: log}
}

type breachResponse struct {
	Breached bool `json:"breached"`
}

// IsBreached consulta si una credencial figura comprometida. La credencial
// nunca viaja en claro: se envía su hash. Cualquier falla del servicio
// retorna false sin error (fail-open); el detalle queda en el log.
func (c *Client) IsBreached(ctx context.Context, credential string) bool {
	if c.cfg.BaseURL == "" || credential == "" {
		return false
	}
	hash := tokens.SHA256Hex(credential)

	v, err, _ := c.sf.Do(hash, func() (any, error) {
		return c.query(ctx, hash)
	})
	if err != nil {
		c.log.Warn("breach-check falló, se asume no comprometida",
			logger.Component("breach"),
			logger.Err(err),
		)
		return false
	}
	return v.(bool)
}

func (c *Client) query(ctx context.Context, hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u := fmt.Sprintf("%s/v1/breached/%s", c.cfg.BaseURL, url.PathEscape(hash))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body breachResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false, err
		}
		return body.Breached, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("breach: status %d", resp.StatusCode)
	}
}
