package app

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medvault/authcore/internal/authflow"
	"github.com/medvault/authcore/internal/config"
	"github.com/medvault/authcore/internal/domain/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	cfg, err := config.Load(writeYAML(t, `
jwt:
  issuer: https://auth.medvault.test
  signing_key: `+key+`
security:
  secretbox_master_key: `+key+`
`))
	require.NoError(t, err)
	return cfg
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewWiresMemoryStack(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), Options{})
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Flow)
	require.NotNil(t, a.Sessions)
	require.NotNil(t, a.MFA)
	require.NotNil(t, a.Devices)

	// el pipeline completo responde: credenciales inexistentes fallan
	// de forma genérica, no con error de wiring
	_, err = a.Flow.Authenticate(ctx, authflow.AttemptInput{
		Identifier: "nadie@medvault.test",
		Password:   "loquesea",
		SourceIP:   "203.0.113.5",
		Profile:    types.SessionWeb,
	})
	require.ErrorIs(t, err, authflow.ErrInvalidCredentials)

	// un access token basura tampoco tumba nada
	_, err = a.Flow.ValidateRequest(ctx, "no-es-un-jwt")
	require.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Addr = "127.0.0.1:0"

	a, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run no terminó tras cancelar el contexto")
	}
}
