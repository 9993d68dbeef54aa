package session

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("session: token inválido")
	ErrTokenExpired = errors.New("session: token expirado")
)

// AccessClaims son los claims que el manager necesita de un access token.
type AccessClaims struct {
	JTI       string
	Subject   string
	SessionID string
	Profile   string
	ExpiresAt time.Time
}

// Issuer firma access tokens con EdDSA. Una sola clave activa; el kid se
// deriva de la pubkey para que un verificador externo pueda seleccionarla.
type Issuer struct {
	iss  string
	kid  string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	ttl  time.Duration
}

// NewIssuer crea un Issuer a partir de la clave privada.
func NewIssuer(iss string, priv ed25519.PrivateKey, accessTTL time.Duration) (*Issuer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("session: clave ed25519 inválida")
	}
	pub := priv.Public().(ed25519.PublicKey)
	sum := sha256.Sum256(pub)
	return &Issuer{
		iss:  iss,
		kid:  base64.RawURLEncoding.EncodeToString(sum[:8]),
		priv: priv,
		pub:  pub,
		ttl:  accessTTL,
	}, nil
}

// ActiveKID devuelve el kid de la clave activa.
func (i *Issuer) ActiveKID() string { return i.kid }

// PublicKey devuelve la pubkey de verificación.
func (i *Issuer) PublicKey() ed25519.PublicKey { return i.pub }

// IssueAccess emite un access token para la sesión con un jti fresco.
func (i *Issuer) IssueAccess(sub, sessionID, profile string, now time.Time, ttl time.Duration) (token, jti string, exp time.Time, err error) {
	if ttl <= 0 {
		ttl = i.ttl
	}
	jti = uuid.NewString()
	exp = now.Add(ttl)

	claims := jwtv5.MapClaims{
		"iss": i.iss,
		"sub": sub,
		"jti": jti,
		"sid": sessionID,
		"pfl": profile,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = i.kid
	tk.Header["typ"] = "JWT"

	signed, err := tk.SignedString(i.priv)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("session: firmando access token: %w", err)
	}
	return signed, jti, exp, nil
}

// ParseAccess valida firma, iss y exp/nbf (tolerancia de 30s) y extrae los
// claims que el manager usa. La vigencia de la sesión se chequea aparte.
func (i *Issuer) ParseAccess(token string, now time.Time) (*AccessClaims, error) {
	keyfunc := func(t *jwtv5.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != "" && kid != i.kid {
			return nil, errors.New("kid desconocido")
		}
		return i.pub, nil
	}

	tok, err := jwtv5.Parse(token, keyfunc,
		jwtv5.WithValidMethods([]string{"EdDSA"}),
		jwtv5.WithTimeFunc(func() time.Time { return now }),
		jwtv5.WithLeeway(30*time.Second),
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if iss, _ := claims["iss"].(string); iss != i.iss {
		return nil, ErrInvalidToken
	}

	out := &AccessClaims{}
	out.JTI, _ = claims["jti"].(string)
	out.Subject, _ = claims["sub"].(string)
	out.SessionID, _ = claims["sid"].(string)
	out.Profile, _ = claims["pfl"].(string)
	if out.JTI == "" || out.SessionID == "" {
		return nil, ErrInvalidToken
	}

	if expf, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(expf), 0)
	}
	return out, nil
}
