package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so clones and wraps compare equal to the predefined values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid credentials")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	ErrInvalidToken        = New("INVALID_TOKEN", http.StatusUnauthorized, "invalid token")
	ErrTokenExpired        = New("TOKEN_EXPIRED", http.StatusUnauthorized, "token expired")
	ErrTokenRevoked        = New("TOKEN_REVOKED", http.StatusUnauthorized, "token revoked")
	ErrSessionRevoked      = New("SESSION_REVOKED", http.StatusUnauthorized, "session revoked")
	ErrRefreshTokenInvalid = New("REFRESH_TOKEN_INVALID", http.StatusUnauthorized, "refresh token invalid")
	ErrRefreshTokenExpired = New("REFRESH_TOKEN_EXPIRED", http.StatusUnauthorized, "refresh token expired")
	ErrServiceUnavailable  = New("SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, "service temporarily unavailable")
	ErrPersistenceFailure  = New("PERSISTENCE_FAILURE", http.StatusServiceUnavailable, "failed to persist session")

	ErrSessionExpired = New("SESSION_EXPIRED", http.StatusUnauthorized, "session expired")
)

// Sentinels that never leave the service layer.
var (
	ErrCacheMiss       = errors.New("cache miss")
	ErrSessionNotFound = errors.New("session not found")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Public collapses authentication failures into the generic classes shown to clients.
// The detailed code stays in logs and metrics only.
func Public(err error) *Error {
	appErr := FromError(err)
	if appErr == nil {
		return nil
	}
	switch appErr.Code {
	case ErrInvalidToken.Code, ErrTokenRevoked.Code, ErrRefreshTokenInvalid.Code,
		ErrInvalidCredentials.Code, ErrUnauthorized.Code:
		return Clone(ErrInvalidCredentials, "")
	case ErrTokenExpired.Code, ErrSessionRevoked.Code, ErrRefreshTokenExpired.Code:
		return Clone(ErrSessionExpired, "")
	case ErrPersistenceFailure.Code, ErrServiceUnavailable.Code:
		return Clone(ErrServiceUnavailable, "")
	case ErrInternal.Code:
		return Clone(ErrInternal, "")
	}
	return &Error{Code: appErr.Code, Message: appErr.Message, Status: appErr.Status}
}
