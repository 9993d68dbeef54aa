package secretbox

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(seed byte) []byte {
	raw := make([]byte, 32)
	for i := 0; i < 32; i++ {
		raw[i] = seed + byte(i)
	}
	return raw
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()

	box, err := New(testKey(1), nil)
	if err != nil {
		t.Fatalf("New err: %v", err)
	}

	msg := "hola mundo ✓ — secreto"
	ct, err := box.Encrypt(msg)
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	pt, err := box.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt err: %v", err)
	}
	if pt != msg {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, msg)
	}
}

func TestDecrypt_DetectsTamper(t *testing.T) {
	t.Parallel()

	box, err := New(testKey(200), nil)
	if err != nil {
		t.Fatalf("New err: %v", err)
	}

	ct, err := box.Encrypt("top secret")
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	parts := strings.Split(ct, "|")
	if len(parts) != 2 {
		t.Fatalf("unexpected ct format")
	}
	// corromper un byte del ciphertext (base64 -> bytes -> flip -> base64)
	bs, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) == 0 {
		t.Fatal("empty ct")
	}
	bs[0] ^= 0x01 // flip
	parts[1] = base64.StdEncoding.EncodeToString(bs)
	corrupted := parts[0] + "|" + parts[1]

	if _, err := box.Decrypt(corrupted); err == nil {
		t.Fatalf("expected auth error, got nil")
	}
}

func TestNew_RejectsBadKeyLength(t *testing.T) {
	t.Parallel()

	if _, err := New([]byte("short"), nil); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestDecodeKey_Formats(t *testing.T) {
	t.Parallel()

	raw := testKey(7)
	cases := []string{
		base64.StdEncoding.EncodeToString(raw),
		base64.RawStdEncoding.EncodeToString(raw),
		string(raw),
	}
	for _, c := range cases {
		got, err := DecodeKey(c)
		if err != nil {
			t.Fatalf("DecodeKey(%q) err: %v", c, err)
		}
		if string(got) != string(raw) {
			t.Fatalf("DecodeKey mismatch for %q", c)
		}
	}

	if _, err := DecodeKey("nope"); err == nil {
		t.Fatalf("expected error for invalid key")
	}
}
