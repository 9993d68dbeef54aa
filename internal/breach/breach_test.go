package breach

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestBreachedCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"breached": true}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, srv.Client(), nil)
	if !c.IsBreached(context.Background(), "paciente@comprometido.test") {
		t.Fatal("esperaba breached = true")
	}
}

func TestUnknownCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, srv.Client(), nil)
	if c.IsBreached(context.Background(), "limpia@medvault.test") {
		t.Fatal("esperaba breached = false")
	}
}

func TestServiceDownFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, srv.Client(), nil)
	if c.IsBreached(context.Background(), "x@y.z") {
		t.Fatal("con el servicio caído debe asumirse no comprometida")
	}
}

func TestTimeoutFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"breached": true}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil, nil)
	if c.IsBreached(context.Background(), "x@y.z") {
		t.Fatal("ante timeout debe asumirse no comprometida")
	}
}

func TestDisabledWithoutBaseURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := New(Config{}, srv.Client(), nil)
	if c.IsBreached(context.Background(), "x@y.z") {
		t.Fatal("sin base URL el chequeo queda deshabilitado")
	}
	if hits.Load() != 0 {
		t.Fatal("no debería haber salido ningún request")
	}
}

func TestCredentialNeverSentInClear(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cred := "secreto@medvault.test"
	c := New(Config{BaseURL: srv.URL}, srv.Client(), nil)
	c.IsBreached(context.Background(), cred)

	if gotPath == "" {
		t.Fatal("el request nunca salió")
	}
	if strings.Contains(gotPath, cred) {
		t.Fatalf("la credencial viajó en claro: %s", gotPath)
	}
}
