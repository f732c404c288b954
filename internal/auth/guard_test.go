package auth

import (
	"crypto/sha512"
	"encoding/hex"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func hashOf(password string) string {
	sum := sha512.Sum512([]byte(password))
	return hex.EncodeToString(sum[:])
}

func newTestGuard(t *testing.T, opts ...Option) *Guard {
	t.Helper()
	return NewGuard(true, hashOf("hunter2"), testSecret, time.Hour, opts...)
}

func TestIssueAndVerify(t *testing.T) {
	g := newTestGuard(t)

	token, err := g.Issue()
	require.NoError(t, err)
	assert.True(t, g.Verify(token))
}

func TestVerifyRejections(t *testing.T) {
	g := newTestGuard(t)

	sign := func(claims jwt.RegisteredClaims, secret string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	now := time.Now()

	t.Run("garbage token", func(t *testing.T) {
		assert.False(t, g.Verify("not-a-token"))
		assert.False(t, g.Verify(""))
	})

	t.Run("wrong signing secret", func(t *testing.T) {
		tok := sign(jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}, "other-secret")
		assert.False(t, g.Verify(tok))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		tok := sign(jwt.RegisteredClaims{
			Issuer:    "someone-else",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}, testSecret)
		assert.False(t, g.Verify(tok))
	})

	t.Run("expired", func(t *testing.T) {
		tok := sign(jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		}, testSecret)
		assert.False(t, g.Verify(tok))
	})

	t.Run("missing exp claim", func(t *testing.T) {
		tok := sign(jwt.RegisteredClaims{
			Issuer:   Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		}, testSecret)
		assert.False(t, g.Verify(tok))
	})

	t.Run("missing iat claim", func(t *testing.T) {
		tok := sign(jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}, testSecret)
		assert.False(t, g.Verify(tok))
	})
}

func TestVerifyExpiryBoundary(t *testing.T) {
	clock := time.Now()
	g := newTestGuard(t, WithClock(func() time.Time { return clock }))

	token, err := g.Issue()
	require.NoError(t, err)
	assert.True(t, g.Verify(token))

	// Advance past the token lifetime; the same token must now fail.
	clock = clock.Add(time.Hour + time.Minute)
	assert.False(t, g.Verify(token))
}

func TestVerifyDisabled(t *testing.T) {
	g := NewGuard(false, "", "", time.Hour)

	assert.True(t, g.Verify(""))
	assert.True(t, g.Verify("complete garbage"))
}

func TestLogin(t *testing.T) {
	g := newTestGuard(t)

	t.Run("correct password issues verifiable token", func(t *testing.T) {
		token, err := g.Login([]byte("hunter2"))
		require.NoError(t, err)
		assert.True(t, g.Verify(token))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := g.Login([]byte("password1"))
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}
