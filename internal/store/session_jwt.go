package store

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWTIssuer = "diagcenter"
	// DefaultSessionTTL matches the 10-day validity window of issued tokens.
	DefaultSessionTTL = 240 * time.Hour
)

var defaultJWTLeeway = 30 * time.Second

// ErrSigningKeyMissing indicates the session store has no signing secret.
var ErrSigningKeyMissing = errors.New("session signing key missing")

// JWTSessionStore issues and validates HS256 JWT tokens embedding the caller
// email as subject. It is stateless: there is no revocation list, so a token
// stays valid until natural expiry even after logout.
type JWTSessionStore struct {
	secret []byte
	ttl    time.Duration
	issuer string
	leeway time.Duration
}

// NewJWTSessionStore builds a stateless JWT session store.
func NewJWTSessionStore(secret string, ttl time.Duration) *JWTSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &JWTSessionStore{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: defaultJWTIssuer,
		leeway: defaultJWTLeeway,
	}
}

// NewSession creates a signed JWT for the caller email.
func (s *JWTSessionStore) NewSession(email string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrSigningKeyMissing
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		Issuer:    s.issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// EmailFromToken validates a JWT and returns the embedded email. Any failure
// means "caller not authenticated", never a system fault.
func (s *JWTSessionStore) EmailFromToken(token string) (string, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false, errors.New("invalid token format")
	}
	if len(s.secret) == 0 {
		return "", false, ErrSigningKeyMissing
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return "", false, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", false, errors.New("token subject missing")
	}
	return claims.Subject, true, nil
}
