package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes access from refresh credentials.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RefreshTokenResponse returns the new access token and the unchanged refresh token.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// LogoutRequest optionally carries the refresh token so it is revoked alongside the access token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Role     UserRole `json:"role"`
}

// TokenClaims is the signed payload of both token types. Role is only set on access tokens.
type TokenClaims struct {
	UserID    string    `json:"identity_id"`
	Role      UserRole  `json:"role,omitempty"`
	SessionID string    `json:"session_id"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// Principal is the minimal identity snapshot attached to an authenticated request.
type Principal struct {
	UserID    string   `json:"identity_id"`
	SessionID string   `json:"session_id"`
	Role      UserRole `json:"role"`
}

// VerifiedToken is the outcome of a successful verification.
type VerifiedToken struct {
	Claims    *TokenClaims
	Principal Principal
	Session   *Session
}

// IssuedCredentials is the token pair minted at login.
type IssuedCredentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	IssuedAt     time.Time
	Session      *Session
}
