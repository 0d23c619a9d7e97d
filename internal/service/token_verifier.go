package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/session-auth-api/internal/models"
	appErrors "github.com/noah-isme/session-auth-api/pkg/errors"
)

// TokenVerifier validates presented tokens against the session store and revocation registry.
type TokenVerifier struct {
	tokens   *TokenService
	store    *SessionStore
	registry *RevocationRegistry
	now      func() time.Time
	logger   *zap.Logger
}

// NewTokenVerifier constructs a TokenVerifier.
func NewTokenVerifier(tokens *TokenService, store *SessionStore, registry *RevocationRegistry, now func() time.Time, logger *zap.Logger) *TokenVerifier {
	if now == nil {
		now = defaultNow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenVerifier{tokens: tokens, store: store, registry: registry, now: now, logger: logger}
}

// Verify runs the checks in order and stops at the first failure: signature, expiry, token type,
// session state, revocation. Apart from the advisory last-used bump it has no side effects.
func (v *TokenVerifier) Verify(ctx context.Context, raw string, expected models.TokenType) (*models.VerifiedToken, error) {
	claims, err := v.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != expected {
		return nil, v.reject(claims, "token_type_mismatch", appErrors.Clone(appErrors.ErrInvalidToken, "unexpected token type"))
	}

	session, err := v.store.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, appErrors.ErrSessionNotFound) {
			return nil, v.reject(claims, "session_not_found", appErrors.Clone(appErrors.ErrSessionRevoked, ""))
		}
		return nil, v.reject(claims, "session_store_unavailable", err)
	}
	if !session.IsActive {
		return nil, v.reject(claims, "session_inactive", appErrors.Clone(appErrors.ErrSessionRevoked, ""))
	}
	if session.UserID != claims.UserID {
		return nil, v.reject(claims, "identity_mismatch", appErrors.Clone(appErrors.ErrInvalidToken, ""))
	}

	hash := HashToken(raw)
	if !boundTo(session, hash, expected) {
		// The cached copy may predate the latest refresh.
		session, err = v.reloadBound(ctx, claims, hash, expected)
		if err != nil {
			return nil, err
		}
	}

	tokenRevoked, sessionRevoked, err := v.registry.Check(ctx, raw, claims.SessionID)
	switch {
	case err != nil:
		v.logger.Warn("revocation registry unavailable, confirming against database",
			zap.String("session_id", claims.SessionID), zap.Error(err))
		if session, err = v.reloadBound(ctx, claims, hash, expected); err != nil {
			return nil, err
		}
	case sessionRevoked:
		return nil, v.reject(claims, "session_revoked", appErrors.Clone(appErrors.ErrSessionRevoked, ""))
	case tokenRevoked:
		return nil, v.reject(claims, "token_revoked", appErrors.Clone(appErrors.ErrTokenRevoked, ""))
	}

	if expected == models.TokenTypeAccess {
		v.store.Touch(session, v.now())
	}

	return &models.VerifiedToken{
		Claims: claims,
		Principal: models.Principal{
			UserID:    claims.UserID,
			SessionID: claims.SessionID,
			Role:      claims.Role,
		},
		Session: session,
	}, nil
}

// reloadBound re-reads the session from the database and requires the token to still be its
// current one. Database failures fail closed.
func (v *TokenVerifier) reloadBound(ctx context.Context, claims *models.TokenClaims, hash string, expected models.TokenType) (*models.Session, error) {
	session, err := v.store.Reload(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, appErrors.ErrSessionNotFound) {
			return nil, v.reject(claims, "session_not_found", appErrors.Clone(appErrors.ErrSessionRevoked, ""))
		}
		return nil, v.reject(claims, "session_store_unavailable", appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, appErrors.ErrServiceUnavailable.Message))
	}
	if !session.IsActive {
		return nil, v.reject(claims, "session_inactive", appErrors.Clone(appErrors.ErrSessionRevoked, ""))
	}
	if !boundTo(session, hash, expected) {
		if expected == models.TokenTypeRefresh {
			return nil, v.reject(claims, "refresh_superseded", appErrors.Clone(appErrors.ErrRefreshTokenInvalid, ""))
		}
		return nil, v.reject(claims, "access_superseded", appErrors.Clone(appErrors.ErrTokenRevoked, ""))
	}
	return session, nil
}

func (v *TokenVerifier) reject(claims *models.TokenClaims, reason string, err error) error {
	v.logger.Info("token rejected",
		zap.String("session_id", claims.SessionID),
		zap.String("token_type", string(claims.TokenType)),
		zap.String("reason", reason))
	return err
}

func boundTo(session *models.Session, hash string, tokenType models.TokenType) bool {
	if tokenType == models.TokenTypeRefresh {
		return HashesEqual(session.RefreshTokenHash, hash)
	}
	return HashesEqual(session.AccessTokenHash, hash)
}
