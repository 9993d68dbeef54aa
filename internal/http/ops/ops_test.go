package ops

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type badPinger struct{}

func (badPinger) Ping(context.Context) error { return errors.New("sin conexión") }

func TestHealthAlwaysOK(t *testing.T) {
	s, err := New(Deps{}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadyReflectsChecks(t *testing.T) {
	s, err := New(Deps{Checks: map[string]Pinger{"storage": okPinger{}}}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	s.handleReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}

	s.deps.Checks["cache"] = badPinger{}
	rec = httptest.NewRecorder()
	s.handleReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 503 {
		t.Fatalf("status = %d, esperaba 503", rec.Code)
	}
}

// el middleware inyecta un logger con request_id y el readiness lo usa al
// reportar la dependencia caída.
func TestReadyWarnCarriesRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s, err := New(Deps{
		Checks: map[string]Pinger{"storage": badPinger{}},
		Log:    zap.New(core),
	}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 503 {
		t.Fatalf("status = %d, esperaba 503", rec.Code)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entradas = %d, esperaba 1", len(entries))
	}
	if id, ok := entries[0].ContextMap()["request_id"].(string); !ok || id == "" {
		t.Fatal("el warn de readiness debe llevar request_id")
	}
}
