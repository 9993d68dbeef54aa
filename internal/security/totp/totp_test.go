package totp

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestGenerateSecret_Base32NoPadding(t *testing.T) {
	t.Parallel()

	src := bytes.NewReader(bytes.Repeat([]byte{0xAB}, 20))
	raw, b32, err := GenerateSecret(src)
	if err != nil {
		t.Fatalf("GenerateSecret err: %v", err)
	}
	if len(raw) != 20 {
		t.Fatalf("raw len = %d, want 20", len(raw))
	}
	if strings.Contains(b32, "=") {
		t.Fatalf("b32 has padding: %q", b32)
	}
	dec, err := DecodeSecret(b32)
	if err != nil {
		t.Fatalf("DecodeSecret err: %v", err)
	}
	if !bytes.Equal(dec, raw) {
		t.Fatalf("decode roundtrip mismatch")
	}
}

func TestVerify_WindowAndReplay(t *testing.T) {
	t.Parallel()

	secret := bytes.Repeat([]byte{0x01, 0x02}, 10)
	now := time.Unix(1700000000, 0).UTC()

	code := CodeAt(secret, now)
	ok, counter := Verify(secret, code, now, 1, 0)
	if !ok {
		t.Fatalf("expected code to verify")
	}
	if counter != now.Unix()/30 {
		t.Fatalf("counter = %d, want %d", counter, now.Unix()/30)
	}

	// mismo código, contador ya consumido -> replay rechazado
	if ok, _ := Verify(secret, code, now, 1, counter); ok {
		t.Fatalf("expected replay to be rejected")
	}

	// código del step anterior acepta dentro de la ventana ±1
	prev := CodeAt(secret, now.Add(-30*time.Second))
	if ok, _ := Verify(secret, prev, now, 1, 0); !ok {
		t.Fatalf("expected previous-step code inside window")
	}

	// fuera de ventana (2 steps atrás) rechaza
	old := CodeAt(secret, now.Add(-60*time.Second))
	if ok, _ := Verify(secret, old, now, 1, 0); ok && old != code && old != prev {
		t.Fatalf("expected out-of-window code to fail")
	}
}

func TestVerify_RejectsMalformed(t *testing.T) {
	t.Parallel()

	secret := bytes.Repeat([]byte{0x7}, 20)
	now := time.Now()

	for _, bad := range []string{"", "12345", "1234567", "abcdef"} {
		if ok, _ := Verify(secret, bad, now, 1, 0); ok {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}

func TestOTPAuthURL(t *testing.T) {
	t.Parallel()

	u := OTPAuthURL("MedVault", "ana@clinic.example", "JBSWY3DPEHPK3PXP")
	if !strings.HasPrefix(u, "otpauth://totp/") {
		t.Fatalf("unexpected scheme: %q", u)
	}
	for _, want := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=MedVault", "digits=6", "period=30"} {
		if !strings.Contains(u, want) {
			t.Fatalf("url %q missing %q", u, want)
		}
	}
}
