// Package auth implements the dashboard's bearer token scheme: a login
// secret is checked against a configured SHA-512 hash and exchanged for a
// short-lived HS256 token that every subsequent request must carry.
package auth

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the fixed iss claim on every token this guard issues or accepts.
const Issuer = "boardwatch"

// ErrInvalidCredentials is returned by Login when the presented secret
// does not hash to the configured value.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Guard validates bearer tokens against the shared secret. It is a pure
// function of (token, secret, clock) and never panics on malformed input.
// When password protection is disabled every check passes.
type Guard struct {
	enabled      bool
	secret       []byte
	passwordHash string
	expiry       time.Duration
	now          func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a Guard. passwordHash is the SHA-512 hex digest of the
// login secret; secret signs and verifies tokens; expiry bounds token
// lifetime.
func NewGuard(enabled bool, passwordHash, secret string, expiry time.Duration, opts ...Option) *Guard {
	g := &Guard{
		enabled:      enabled,
		secret:       []byte(secret),
		passwordHash: passwordHash,
		expiry:       expiry,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether password protection is active.
func (g *Guard) Enabled() bool {
	return g.enabled
}

// Verify reports whether token is a well-signed, unexpired token issued by
// this dashboard. Disabled protection always verifies.
func (g *Guard) Verify(token string) bool {
	if !g.enabled {
		return true
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (interface{}, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil || !parsed.Valid {
		return false
	}
	// exp presence is enforced by the parser; iat presence is not.
	return claims.IssuedAt != nil
}

// Issue creates a signed token with the configured lifetime.
func (g *Guard) Issue() (string, error) {
	now := g.now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.expiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// Login checks the presented secret against the configured hash and, on
// match, issues a token.
func (g *Guard) Login(password []byte) (string, error) {
	sum := sha512.Sum512(password)
	digest := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(digest), []byte(g.passwordHash)) != 1 {
		return "", ErrInvalidCredentials
	}
	return g.Issue()
}
