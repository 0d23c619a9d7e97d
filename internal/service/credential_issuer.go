package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/session-auth-api/internal/models"
	appErrors "github.com/noah-isme/session-auth-api/pkg/errors"
)

// CredentialIssuer opens sessions and mints their first token pair.
type CredentialIssuer struct {
	tokens *TokenService
	store  *SessionStore
	now    func() time.Time
	logger *zap.Logger
}

// NewCredentialIssuer constructs a CredentialIssuer.
func NewCredentialIssuer(tokens *TokenService, store *SessionStore, now func() time.Time, logger *zap.Logger) *CredentialIssuer {
	if now == nil {
		now = defaultNow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialIssuer{tokens: tokens, store: store, now: now, logger: logger}
}

// Issue creates a session for an authenticated, active identity. Nothing is returned unless the
// session row was persisted.
func (i *CredentialIssuer) Issue(ctx context.Context, user *models.User, meta models.ClientMeta) (*models.IssuedCredentials, error) {
	if user == nil || !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	sessionID, err := NewSessionID()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate session id")
	}

	issuedAt := i.now()
	accessToken, _, err := i.tokens.Mint(user.ID, user.Role, sessionID, models.TokenTypeAccess, issuedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	refreshToken, refreshExpiresAt, err := i.tokens.Mint(user.ID, user.Role, sessionID, models.TokenTypeRefresh, issuedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	session := &models.Session{
		ID:               sessionID,
		UserID:           user.ID,
		CreatedAt:        issuedAt,
		ExpiresAt:        refreshExpiresAt,
		LastUsedAt:       issuedAt,
		AccessTokenHash:  HashToken(accessToken),
		RefreshTokenHash: HashToken(refreshToken),
		IsActive:         true,
		ClientMeta:       meta,
	}
	if err := i.store.Create(ctx, session); err != nil {
		i.logger.Error("session issuance failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, err
	}

	return &models.IssuedCredentials{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(i.tokens.TTL(models.TokenTypeAccess).Seconds()),
		IssuedAt:     issuedAt,
		Session:      session,
	}, nil
}
