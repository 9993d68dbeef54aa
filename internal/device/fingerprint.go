package device

import (
	"sort"
	"strings"

	tokens "github.com/medvault/authcore/internal/security/token"
)

// headers de request que entran al fingerprint. User-Agent y la familia
// Accept-* son estables por instalación de browser.
var fingerprintHeaders = map[string]bool{
	"user-agent":      true,
	"accept":          true,
	"accept-language": true,
	"accept-encoding": true,
}

// Fingerprint deriva un hash estable de los headers del request más señales
// opcionales del cliente (resolución de pantalla, timezone, canvas hash).
// La canonicalización ordena las claves, así el hash es independiente del
// orden de llegada.
func Fingerprint(headers map[string]string, clientSignals map[string]string) string {
	pairs := make([]string, 0, len(headers)+len(clientSignals))

	for k, v := range headers {
		lk := strings.ToLower(strings.TrimSpace(k))
		if fingerprintHeaders[lk] {
			pairs = append(pairs, lk+"="+strings.TrimSpace(v))
		}
	}
	for k, v := range clientSignals {
		lk := "sig:" + strings.ToLower(strings.TrimSpace(k))
		pairs = append(pairs, lk+"="+strings.TrimSpace(v))
	}

	sort.Strings(pairs)
	return tokens.SHA256Hex(strings.Join(pairs, "\n"))
}
