package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
)

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
func GenerateOpaqueToken(nBytes int) (string, error) {
	return GenerateOpaqueTokenFrom(rand.Reader, nBytes)
}

// GenerateOpaqueTokenFrom genera un token opaco desde un reader inyectado
// (determinístico en tests).
func GenerateOpaqueTokenFrom(r io.Reader, nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SHA256Base64URL devuelve sha256(input) en base64url sin padding (para guardar en DB).
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SHA256Hex devuelve sha256(input) en hexadecimal.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// ConstantTimeEquals compara dos strings en tiempo constante.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NumericCode genera un código numérico de n dígitos (ej: SMS de 6 dígitos)
// con distribución uniforme.
func NumericCode(r io.Reader, n int) (string, error) {
	const digits = "0123456789"
	out := make([]byte, n)
	buf := make([]byte, 1)
	for i := 0; i < n; i++ {
		// rejection sampling para evitar sesgo módulo
		for {
			if _, err := io.ReadFull(r, buf); err != nil {
				return "", err
			}
			if buf[0] < 250 {
				out[i] = digits[int(buf[0])%10]
				break
			}
		}
	}
	return string(out), nil
}
