package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/session-auth-api/internal/models"
	appErrors "github.com/noah-isme/session-auth-api/pkg/errors"
)

const sessionIDBytes = 32

// TokenConfig carries signing material and lifetimes for both token types.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      []string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenService signs and parses the HS256 envelopes used for access and refresh tokens.
type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenService constructs a TokenService. A nil clock defaults to UTC wall time.
func NewTokenService(cfg TokenConfig, now func() time.Time) *TokenService {
	if now == nil {
		now = defaultNow
	}
	return &TokenService{cfg: cfg, now: now}
}

// TTL returns the configured lifetime for a token type.
func (s *TokenService) TTL(tokenType models.TokenType) time.Duration {
	if tokenType == models.TokenTypeRefresh {
		return s.cfg.RefreshTTL
	}
	return s.cfg.AccessTTL
}

// Mint signs a token of the given type. Role is omitted from refresh tokens.
func (s *TokenService) Mint(identityID string, role models.UserRole, sessionID string, tokenType models.TokenType, issuedAt time.Time) (string, time.Time, error) {
	secret, err := s.secretFor(tokenType)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := issuedAt.Add(s.TTL(tokenType))
	claims := &models.TokenClaims{
		UserID:    identityID,
		SessionID: sessionID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   identityID,
			Audience:  s.cfg.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	if tokenType == models.TokenTypeAccess {
		claims.Role = role
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Parse checks the signature and the registered claims of a token.
//
// Errors are ErrInvalidToken for anything structurally or cryptographically wrong and
// ErrTokenExpired once exp has passed. On ErrTokenExpired the authentic claims are still returned
// so logout can act on an expired access token.
func (s *TokenService) Parse(raw string) (*models.TokenClaims, error) {
	if raw == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "token missing")
	}

	claims := &models.TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		secret, err := s.secretFor(claims.TokenType)
		if err != nil {
			return nil, err
		}
		return []byte(secret), nil
	}, jwt.WithoutClaimsValidation(), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidToken.Code, appErrors.ErrInvalidToken.Status, "invalid token")
	}

	if claims.UserID == "" || claims.SessionID == "" || claims.ExpiresAt == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "token missing required claims")
	}
	if s.cfg.Issuer != "" && claims.Issuer != s.cfg.Issuer {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "unexpected token issuer")
	}
	if len(s.cfg.Audience) > 0 && !audienceMatches(claims.Audience, s.cfg.Audience) {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "unexpected token audience")
	}

	if !s.now().Before(claims.ExpiresAt.Time) {
		return claims, appErrors.Clone(appErrors.ErrTokenExpired, "")
	}
	return claims, nil
}

func (s *TokenService) secretFor(tokenType models.TokenType) (string, error) {
	switch tokenType {
	case models.TokenTypeAccess:
		return s.cfg.AccessSecret, nil
	case models.TokenTypeRefresh:
		return s.cfg.RefreshSecret, nil
	}
	return "", errors.New("unknown token type")
}

func audienceMatches(got jwt.ClaimStrings, want []string) bool {
	for _, aud := range got {
		if slices.Contains(want, aud) {
			return true
		}
	}
	return false
}

// HashToken returns the hex sha256 digest stored in place of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashesEqual compares two token hashes in constant time.
func HashesEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewSessionID returns 256 random bits encoded as unpadded base64url.
func NewSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func defaultNow() time.Time {
	return time.Now().UTC()
}
