// Package totp implementa TOTP (RFC 6238) sobre HMAC-SHA1 con ventana
// de verificación ±N steps y anti-replay por contador.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"io"
	"math"
	"net/url"
	"strings"
	"time"
)

const (
	periodSeconds = 30
	digits        = 6
)

// GenerateSecret retorna 20 bytes base32 sin padding (RFC 3548) leídos de r.
func GenerateSecret(r io.Reader) (raw []byte, b32 string, err error) {
	raw = make([]byte, 20)
	if _, err = io.ReadFull(r, raw); err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return raw, enc, nil
}

// DecodeSecret decodifica un secreto base32 sin padding.
func DecodeSecret(b32 string) ([]byte, error) {
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(strings.TrimSpace(b32)))
}

// OTPAuthURL construye otpauth:// para QR.
func OTPAuthURL(issuer, accountName, secretB32 string) string {
	// otpauth://totp/{issuer}:{account}?secret=...&issuer=...&algorithm=SHA1&digits=6&period=30
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, accountName))
	q := url.Values{}
	q.Set("secret", secretB32)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", digits))
	q.Set("period", fmt.Sprintf("%d", periodSeconds))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// Verify valida un código TOTP en ventana +/- windowSteps (default 1).
// Evita replay comparando el contador con lastCounterUsed: un código del
// mismo step (o anterior) a uno ya aceptado nunca vuelve a validar.
func Verify(secretRaw []byte, code string, t time.Time, windowSteps int, lastCounterUsed int64) (ok bool, counter int64) {
	code = strings.TrimSpace(code)
	if len(code) != digits {
		return false, 0
	}
	if windowSteps <= 0 {
		windowSteps = 1
	}
	counter = t.Unix() / periodSeconds
	start := counter - int64(windowSteps)
	end := counter + int64(windowSteps)
	for c := start; c <= end; c++ {
		if lastCounterUsed > 0 && c <= lastCounterUsed {
			continue // anti-replay
		}
		if gen(secretRaw, c) == code {
			return true, c
		}
	}
	return false, 0
}

// CodeAt genera el código del step que contiene t. Solo para tests y
// provisioning previews.
func CodeAt(secretRaw []byte, t time.Time) string {
	return gen(secretRaw, t.Unix()/periodSeconds)
}

func gen(secretRaw []byte, counter int64) string {
	// HOTP(K, C) con HMAC-SHA1 (RFC 4226 / 6238)
	var msg [8]byte
	for i := 7; i >= 0; i-- {
		msg[i] = byte(counter & 0xff)
		counter >>= 8
	}
	m := hmac.New(sha1.New, secretRaw)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)
	offset := int(sum[len(sum)-1] & 0x0f)
	bin := (int(sum[offset])&0x7f)<<24 | int(sum[offset+1])<<16 | int(sum[offset+2])<<8 | int(sum[offset+3])
	otp := bin % int(math.Pow10(digits))
	return fmt.Sprintf("%06d", otp)
}
