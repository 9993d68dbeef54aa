package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("escribiendo config: %v", err)
	}
	return path
}

var testKey = base64.StdEncoding.EncodeToString(make([]byte, 32))

func minimalYAML() string {
	return `
jwt:
  issuer: https://auth.medvault.test
  signing_key: ` + testKey + `
security:
  secretbox_master_key: ` + testKey + `
`
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, minimalYAML()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Addr != ":9090" {
		t.Fatalf("Server.Addr = %q", c.Server.Addr)
	}
	if c.Storage.Driver != "memory" || c.Cache.Kind != "memory" {
		t.Fatalf("defaults de storage/cache: %q %q", c.Storage.Driver, c.Cache.Kind)
	}
	if c.JWT.AccessTTL != 15*time.Minute {
		t.Fatalf("JWT.AccessTTL = %v", c.JWT.AccessTTL)
	}
	if _, err := c.SigningKey(); err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7777")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("STORAGE_DSN", "postgres://localhost/authcore")

	c, err := Load(writeConfig(t, minimalYAML()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Addr != ":7777" {
		t.Fatalf("Server.Addr = %q", c.Server.Addr)
	}
	if c.Storage.Driver != "postgres" || c.Storage.DSN == "" {
		t.Fatalf("storage = %q %q", c.Storage.Driver, c.Storage.DSN)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"sin issuer", `
jwt:
  signing_key: ` + testKey + `
security:
  secretbox_master_key: ` + testKey + `
`},
		{"clave corta", `
jwt:
  issuer: https://auth.medvault.test
  signing_key: ` + base64.StdEncoding.EncodeToString(make([]byte, 16)) + `
security:
  secretbox_master_key: ` + testKey + `
`},
		{"postgres sin dsn", minimalYAML() + `
storage:
  driver: postgres
`},
		{"redis sin addr", minimalYAML() + `
cache:
  kind: redis
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Fatal("esperaba error de validación")
			}
		})
	}
}

func TestSessionPoliciesFromYAML(t *testing.T) {
	c, err := Load(writeConfig(t, minimalYAML()+`
sessions:
  profiles:
    web:
      access_ttl: 5m
      idle_ttl: 20m
      absolute_ttl: 6h
      renewal_window: 5m
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pol := c.SessionPolicies()
	p, ok := pol["web"]
	if !ok {
		t.Fatal("falta el perfil web")
	}
	if p.IdleTTL != 20*time.Minute || p.AbsoluteTTL != 6*time.Hour {
		t.Fatalf("política web = %+v", p)
	}
}
