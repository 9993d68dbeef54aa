package notify

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	name  string
	fail  error
	calls int
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Send(_ context.Context, _, _ string) error {
	s.calls++
	return s.fail
}

func TestPrimaryDelivers(t *testing.T) {
	primary := &stubProvider{name: "principal"}
	fallback := &stubProvider{name: "fallback"}
	ch := NewChannel(primary, fallback, nil, nil)

	if err := ch.SendSMS(context.Background(), "+549115555", "código 123456"); err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if fallback.calls != 0 {
		t.Fatal("el fallback no debe usarse si el principal entrega")
	}
}

func TestFailoverToFallback(t *testing.T) {
	primary := &stubProvider{name: "principal", fail: errors.New("timeout")}
	fallback := &stubProvider{name: "fallback"}
	ch := NewChannel(primary, fallback, nil, nil)

	if err := ch.SendSMS(context.Background(), "+549115555", "x"); err != nil {
		t.Fatalf("con fallback sano el envío debe entregar: %v", err)
	}
	if fallback.calls != 1 {
		t.Fatalf("fallback.calls = %d", fallback.calls)
	}
}

func TestBothProvidersFailClosed(t *testing.T) {
	primary := &stubProvider{name: "principal", fail: errors.New("caído")}
	fallback := &stubProvider{name: "fallback", fail: errors.New("también caído")}
	ch := NewChannel(primary, fallback, nil, nil)

	err := ch.SendSMS(context.Background(), "+549115555", "x")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v, esperaba ErrDeliveryFailed", err)
	}
}

func TestNoProviderConfigured(t *testing.T) {
	ch := NewChannel(nil, nil, nil, nil)
	if err := ch.SendSMS(context.Background(), "+549115555", "x"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v", err)
	}
}
