package service

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/session-auth-api/internal/models"
	appErrors "github.com/noah-isme/session-auth-api/pkg/errors"
)

func TestTokenServiceMintAndParse(t *testing.T) {
	clock := newTestClock()
	svc := NewTokenService(testTokenConfig(), clock.Now)

	access, exp, err := svc.Mint("u1", models.RoleAdmin, "s1", models.TokenTypeAccess, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(15*time.Minute), exp)

	claims, err := svc.Parse(access)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Equal(t, models.TokenTypeAccess, claims.TokenType)
	assert.NotEmpty(t, claims.ID)

	refresh, exp, err := svc.Mint("u1", models.RoleAdmin, "s1", models.TokenTypeRefresh, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(7*24*time.Hour), exp)

	claims, err = svc.Parse(refresh)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeRefresh, claims.TokenType)
	assert.Empty(t, claims.Role)
}

func TestTokenServiceMintsDistinctTokens(t *testing.T) {
	clock := newTestClock()
	svc := NewTokenService(testTokenConfig(), clock.Now)

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		token, _, err := svc.Mint("u1", models.RoleUser, "s1", models.TokenTypeAccess, clock.Now())
		require.NoError(t, err)
		seen[token] = struct{}{}
	}
	assert.Len(t, seen, 20)
}

func TestTokenServiceRejectsTampering(t *testing.T) {
	clock := newTestClock()
	svc := NewTokenService(testTokenConfig(), clock.Now)
	token, _, err := svc.Mint("u1", models.RoleUser, "s1", models.TokenTypeAccess, clock.Now())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	forged, _, err := NewTokenService(testTokenConfig(), clock.Now).Mint("u2", models.RoleSuperAdmin, "s1", models.TokenTypeAccess, clock.Now())
	require.NoError(t, err)
	swappedPayload := parts[0] + "." + strings.Split(forged, ".")[1] + "." + parts[2]

	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	badSignature := parts[0] + "." + parts[1] + "." + string(sig)

	cases := map[string]string{
		"payload":   swappedPayload,
		"signature": badSignature,
		"garbage":   "not-a-token",
		"empty":     "",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Parse(raw)
			assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
		})
	}
}

func TestTokenServiceRejectsCrossTypeSecret(t *testing.T) {
	clock := newTestClock()
	cfg := testTokenConfig()
	svc := NewTokenService(cfg, clock.Now)

	// An envelope claiming to be a refresh token but signed with the access secret.
	claims := &models.TokenClaims{
		UserID:    "u1",
		SessionID: "s1",
		TokenType: models.TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.AccessSecret))
	require.NoError(t, err)

	_, err = svc.Parse(raw)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestTokenServiceRejectsOtherAlgorithms(t *testing.T) {
	clock := newTestClock()
	cfg := testTokenConfig()
	svc := NewTokenService(cfg, clock.Now)

	claims := &models.TokenClaims{
		UserID:    "u1",
		SessionID: "s1",
		TokenType: models.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(cfg.AccessSecret))
	require.NoError(t, err)

	_, err = svc.Parse(raw)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestTokenServiceExpiry(t *testing.T) {
	clock := newTestClock()
	svc := NewTokenService(testTokenConfig(), clock.Now)
	token, _, err := svc.Mint("u1", models.RoleUser, "s1", models.TokenTypeAccess, clock.Now())
	require.NoError(t, err)

	clock.Advance(15*time.Minute - time.Second)
	_, err = svc.Parse(token)
	require.NoError(t, err)

	clock.Advance(time.Second)
	claims, err := svc.Parse(token)
	assert.ErrorIs(t, err, appErrors.ErrTokenExpired)
	require.NotNil(t, claims)
	assert.Equal(t, "s1", claims.SessionID)
}

func TestTokenServiceChecksIssuerAndAudience(t *testing.T) {
	clock := newTestClock()
	cfg := testTokenConfig()
	cfg.Audience = []string{"web"}
	minted, _, err := NewTokenService(cfg, clock.Now).Mint("u1", models.RoleUser, "s1", models.TokenTypeAccess, clock.Now())
	require.NoError(t, err)

	other := cfg
	other.Audience = []string{"mobile"}
	_, err = NewTokenService(other, clock.Now).Parse(minted)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)

	other = cfg
	other.Issuer = "someone-else"
	_, err = NewTokenService(other, clock.Now).Parse(minted)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestHashHelpers(t *testing.T) {
	assert.Len(t, HashToken("abc"), 64)
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.True(t, HashesEqual(HashToken("abc"), HashToken("abc")))
	assert.False(t, HashesEqual(HashToken("abc"), HashToken("abd")))
	assert.False(t, HashesEqual("", ""))
}

func TestNewSessionID(t *testing.T) {
	a, err := NewSessionID()
	require.NoError(t, err)
	b, err := NewSessionID()
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}
