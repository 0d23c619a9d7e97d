package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/session-auth-api/internal/models"
	appErrors "github.com/noah-isme/session-auth-api/pkg/errors"
)

type identityReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// RefreshCoordinator exchanges a refresh token for a new access token. The refresh token itself is
// reused until it expires; only the access token rotates.
type RefreshCoordinator struct {
	verifier *TokenVerifier
	tokens   *TokenService
	store    *SessionStore
	users    identityReader
	now      func() time.Time
	logger   *zap.Logger
}

// NewRefreshCoordinator constructs a RefreshCoordinator.
func NewRefreshCoordinator(verifier *TokenVerifier, tokens *TokenService, store *SessionStore, users identityReader, now func() time.Time, logger *zap.Logger) *RefreshCoordinator {
	if now == nil {
		now = defaultNow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshCoordinator{verifier: verifier, tokens: tokens, store: store, users: users, now: now, logger: logger}
}

// Refresh mints a new access token for the session behind refreshToken. Every failure is terminal
// for that refresh token.
func (c *RefreshCoordinator) Refresh(ctx context.Context, refreshToken string) (*models.RefreshTokenResponse, error) {
	verified, err := c.verifier.Verify(ctx, refreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, refreshError(err)
	}
	sessionID := verified.Claims.SessionID

	user, err := c.users.FindByID(ctx, verified.Claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSessionRevoked, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to load identity")
	}
	if !user.Active {
		// The caller holds only a token here, so the account state is not disclosed.
		c.logger.Info("refresh refused for inactive identity", zap.String("session_id", sessionID))
		return nil, appErrors.Wrap(appErrors.ErrInactiveAccount, appErrors.ErrRefreshTokenInvalid.Code, appErrors.ErrRefreshTokenInvalid.Status, appErrors.ErrRefreshTokenInvalid.Message)
	}

	issuedAt := c.now()
	accessToken, _, err := c.tokens.Mint(user.ID, user.Role, sessionID, models.TokenTypeAccess, issuedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	if err := c.store.UpdateAccessToken(ctx, sessionID, HashToken(accessToken), issuedAt); err != nil {
		return nil, err
	}

	return &models.RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(c.tokens.TTL(models.TokenTypeAccess).Seconds()),
		IssuedAt:     issuedAt,
	}, nil
}

// refreshError maps verifier failures onto the refresh taxonomy.
func refreshError(err error) error {
	switch {
	case errors.Is(err, appErrors.ErrTokenExpired):
		return appErrors.Clone(appErrors.ErrRefreshTokenExpired, "")
	case errors.Is(err, appErrors.ErrInvalidToken), errors.Is(err, appErrors.ErrTokenRevoked):
		return appErrors.Clone(appErrors.ErrRefreshTokenInvalid, "")
	}
	return err
}
