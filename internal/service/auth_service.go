package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/session-auth-api/internal/models"
	appErrors "github.com/noah-isme/session-auth-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

// AuthComponents groups the collaborators behind AuthService. All are built once at startup.
type AuthComponents struct {
	Users     authUserRepository
	Tokens    *TokenService
	Store     *SessionStore
	Registry  *RevocationRegistry
	Issuer    *CredentialIssuer
	Verifier  *TokenVerifier
	Refresher *RefreshCoordinator
}

// AuthService exposes the session lifecycle operations to transport handlers.
type AuthService struct {
	users     authUserRepository
	tokens    *TokenService
	store     *SessionStore
	registry  *RevocationRegistry
	issuer    *CredentialIssuer
	verifier  *TokenVerifier
	refresher *RefreshCoordinator
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(components AuthComponents, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     components.Users,
		tokens:    components.Tokens,
		store:     components.Store,
		registry:  components.Registry,
		issuer:    components.Issuer,
		verifier:  components.Verifier,
		refresher: components.Refresher,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
	}
}

// Login authenticates a user and returns a new session's tokens.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (resp *models.LoginResponse, err error) {
	defer func() { s.metrics.RecordAuthOutcome("login", err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	creds, err := s.issuer.Issue(ctx, user, models.ClientMeta{UserAgent: req.UserAgent, IP: req.IP})
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, creds.IssuedAt); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.logger.Info("session opened", zap.String("user_id", user.ID), zap.String("session_id", creds.Session.ID))

	return &models.LoginResponse{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiresIn:    creds.ExpiresIn,
		IssuedAt:     creds.IssuedAt,
		User:         userInfo(user),
	}, nil
}

// VerifyAccess validates an access token and returns the caller's identity snapshot.
func (s *AuthService) VerifyAccess(ctx context.Context, token string) (principal *models.Principal, err error) {
	defer func() { s.metrics.RecordAuthOutcome("verify", err) }()

	verified, err := s.verifier.Verify(ctx, token, models.TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	p := verified.Principal
	return &p, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (resp *models.RefreshTokenResponse, err error) {
	defer func() { s.metrics.RecordAuthOutcome("refresh", err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}
	return s.refresher.Refresh(ctx, req.RefreshToken)
}

// Logout ends the session behind accessToken and revokes the presented tokens. An expired but
// authentic access token is accepted. It reports whether an active session was closed.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) (closed bool, err error) {
	defer func() { s.metrics.RecordAuthOutcome("logout", err) }()

	claims, err := s.tokens.Parse(accessToken)
	if err != nil && !errors.Is(err, appErrors.ErrTokenExpired) {
		return false, err
	}
	if claims.TokenType != models.TokenTypeAccess {
		return false, appErrors.Clone(appErrors.ErrInvalidToken, "unexpected token type")
	}

	closed, err = s.store.Invalidate(ctx, claims.SessionID)
	if err != nil {
		return false, err
	}

	s.revokeSession(ctx, claims.SessionID)
	s.revoke(ctx, accessToken, claims)
	if refreshToken != "" {
		refreshClaims, perr := s.tokens.Parse(refreshToken)
		switch {
		case perr != nil:
			s.logger.Debug("logout refresh token ignored", zap.String("session_id", claims.SessionID), zap.Error(perr))
		case refreshClaims.TokenType == models.TokenTypeRefresh && refreshClaims.SessionID == claims.SessionID:
			s.revoke(ctx, refreshToken, refreshClaims)
		}
	}

	s.logger.Info("session closed", zap.String("session_id", claims.SessionID), zap.Bool("was_active", closed))
	return closed, nil
}

// InvalidateSession deactivates a session by id. It reports whether an active session was closed.
func (s *AuthService) InvalidateSession(ctx context.Context, sessionID string) (closed bool, err error) {
	defer func() { s.metrics.RecordAuthOutcome("invalidate", err) }()

	if sessionID == "" {
		return false, appErrors.Clone(appErrors.ErrValidation, "session id is required")
	}
	closed, err = s.store.Invalidate(ctx, sessionID)
	if err != nil {
		return false, err
	}
	s.revokeSession(ctx, sessionID)
	s.logger.Info("session invalidated", zap.String("session_id", sessionID), zap.Bool("was_active", closed))
	return closed, nil
}

// CurrentUser returns the profile for an authenticated principal.
func (s *AuthService) CurrentUser(ctx context.Context, principal models.Principal) (*models.UserInfo, error) {
	user, err := s.users.FindByID(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSessionRevoked, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to load user")
	}
	info := userInfo(user)
	return &info, nil
}

// revoke adds a token to the registry. The session is already invalidated, so failures are only logged.
func (s *AuthService) revoke(ctx context.Context, token string, claims *models.TokenClaims) {
	if err := s.registry.Add(ctx, token, claims.ExpiresAt.Time); err != nil {
		s.logger.Warn("token revocation failed",
			zap.String("session_id", claims.SessionID),
			zap.String("token_type", string(claims.TokenType)),
			zap.Error(err))
	}
}

// revokeSession marks the whole session revoked for the longest lifetime a session can have, so a
// concurrent cache fill that read the row before it was deactivated is still rejected.
func (s *AuthService) revokeSession(ctx context.Context, sessionID string) {
	if err := s.registry.AddSession(ctx, sessionID, s.tokens.TTL(models.TokenTypeRefresh)); err != nil {
		s.logger.Warn("session revocation failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func userInfo(user *models.User) models.UserInfo {
	return models.UserInfo{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     user.Role,
	}
}
