package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/session-auth-api/internal/models"
	appErrors "github.com/noah-isme/session-auth-api/pkg/errors"
)

func TestLoginThenVerify(t *testing.T) {
	h := newAuthHarness(t)
	resp := h.login(t)

	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, int64(900), resp.ExpiresIn)
	assert.Equal(t, "u1", resp.User.ID)

	session := h.sessionOf(t, resp.AccessToken)
	assert.Equal(t, h.clock.Now().Add(7*24*time.Hour), session.ExpiresAt)
	assert.True(t, session.IsActive)
	assert.Equal(t, "10.0.0.1", session.IP)
	assert.Equal(t, "test", session.UserAgent)
	assert.Equal(t, HashToken(resp.AccessToken), session.AccessTokenHash)
	assert.Equal(t, HashToken(resp.RefreshToken), session.RefreshTokenHash)
	assert.Contains(t, h.users.logins, "u1")

	principal, err := h.auth.VerifyAccess(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", principal.UserID)
	assert.Equal(t, session.ID, principal.SessionID)
}

func TestLoginFailures(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	_, err := h.auth.Login(ctx, models.LoginRequest{Email: "u1@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = h.auth.Login(ctx, models.LoginRequest{Email: "nobody@example.com", Password: testPassword})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = h.auth.Login(ctx, models.LoginRequest{Email: "u2@example.com", Password: testPassword})
	assert.ErrorIs(t, err, appErrors.ErrInactiveAccount)

	_, err = h.auth.Login(ctx, models.LoginRequest{Email: "not-an-email"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestLoginIsAtomicOnPersistenceFailure(t *testing.T) {
	h := newAuthHarness(t)
	h.sessions.createErr = errors.New("disk full")

	resp, err := h.auth.Login(context.Background(), models.LoginRequest{Email: "u1@example.com", Password: testPassword})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, appErrors.ErrPersistenceFailure)
	assert.Empty(t, h.redis.Keys())
}

func TestLogoutRevokesAccess(t *testing.T) {
	h := newAuthHarness(t)
	resp := h.login(t)
	ctx := context.Background()
	session := h.sessionOf(t, resp.AccessToken)

	closed, err := h.auth.Logout(ctx, resp.AccessToken, resp.RefreshToken)
	require.NoError(t, err)
	assert.True(t, closed)

	row, _ := h.sessions.row(session.ID)
	assert.False(t, row.IsActive)
	assert.False(t, h.redis.Exists("session:"+session.ID))
	assert.True(t, h.redis.Exists("revoked:"+HashToken(resp.AccessToken)))
	assert.True(t, h.redis.Exists("revoked:"+HashToken(resp.RefreshToken)))
	assert.LessOrEqual(t, h.redis.TTL("revoked:"+HashToken(resp.AccessToken)), 15*time.Minute)

	_, err = h.auth.VerifyAccess(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)

	closed, err = h.auth.Logout(ctx, resp.AccessToken, "")
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestLogoutWinsOverStaleCacheEntry(t *testing.T) {
	h := newAuthHarness(t)
	resp := h.login(t)
	ctx := context.Background()
	session := h.sessionOf(t, resp.AccessToken)

	stale, err := h.redis.Get("session:" + session.ID)
	require.NoError(t, err)

	_, err = h.auth.Logout(ctx, resp.AccessToken, "")
	require.NoError(t, err)

	// Simulate a cache write that raced with logout and restored the active copy.
	require.NoError(t, h.redis.Set("session:"+session.ID, stale))

	_, err = h.auth.VerifyAccess(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)
}

func TestLogoutAcceptsExpiredAccessToken(t *testing.T) {
	h := newAuthHarness(t)
	resp := h.login(t)
	session := h.sessionOf(t, resp.AccessToken)

	h.clock.Advance(20 * time.Minute)
	closed, err := h.auth.Logout(context.Background(), resp.AccessToken, resp.RefreshToken)
	require.NoError(t, err)
	assert.True(t, closed)

	row, _ := h.sessions.row(session.ID)
	assert.False(t, row.IsActive)
	assert.False(t, h.redis.Exists("revoked:"+HashToken(resp.AccessToken)))
	assert.True(t, h.redis.Exists("revoked:"+HashToken(resp.RefreshToken)))
}

func TestLogoutIgnoresForeignRefreshToken(t *testing.T) {
	h := newAuthHarness(t)
	first := h.login(t)
	second := h.login(t)

	_, err := h.auth.Logout(context.Background(), first.AccessToken, second.RefreshToken)
	require.NoError(t, err)
	assert.False(t, h.redis.Exists("revoked:"+HashToken(second.RefreshToken)))

	_, err = h.auth.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: second.RefreshToken})
	require.NoError(t, err)
}

func TestLogoutRejectsForgedToken(t *testing.T) {
	h := newAuthHarness(t)
	resp := h.login(t)

	_, err := h.auth.Logout(context.Background(), resp.AccessToken+"x", "")
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)

	_, err = h.auth.Logout(context.Background(), resp.RefreshToken, "")
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestLogoutStillSucceedsWhenRegistryDown(t *testing.T) {
	h := newAuthHarness(t)
	resp := h.login(t)
	session := h.sessionOf(t, resp.AccessToken)
	h.redis.SetError("LOADING")

	closed, err := h.auth.Logout(context.Background(), resp.AccessToken, "")
	require.NoError(t, err)
	assert.True(t, closed)

	row, _ := h.sessions.row(session.ID)
	assert.False(t, row.IsActive)
}

func TestInvalidateSession(t *testing.T) {
	h := newAuthHarness(t)
	resp := h.login(t)
	ctx := context.Background()
	session := h.sessionOf(t, resp.AccessToken)

	closed, err := h.auth.InvalidateSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, closed)

	_, err = h.auth.VerifyAccess(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)

	_, err = h.auth.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: resp.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)

	_, err = h.auth.InvalidateSession(ctx, "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	h.sessions.setDown(true)
	_, err = h.auth.InvalidateSession(ctx, session.ID)
	assert.ErrorIs(t, err, appErrors.ErrPersistenceFailure)
}

func TestInvalidateSessionWinsOverStaleCacheEntry(t *testing.T) {
	h := newAuthHarness(t)
	resp := h.login(t)
	ctx := context.Background()
	session := h.sessionOf(t, resp.AccessToken)

	stale, err := h.redis.Get("session:" + session.ID)
	require.NoError(t, err)

	closed, err := h.auth.InvalidateSession(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, closed)
	assert.Equal(t, 7*24*time.Hour, h.redis.TTL("revoked:session:"+session.ID))

	// A miss that loaded the row before deactivation refills the cache after the eviction.
	require.NoError(t, h.redis.Set("session:"+session.ID, stale))

	_, err = h.auth.VerifyAccess(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)

	_, err = h.auth.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: resp.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)
}

func TestScenarioLifecycle(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	resp := h.login(t)
	principal, err := h.auth.VerifyAccess(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", principal.UserID)

	_, err = h.auth.Logout(ctx, resp.AccessToken, resp.RefreshToken)
	require.NoError(t, err)

	_, err = h.auth.VerifyAccess(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)

	_, err = h.auth.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: resp.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)

	expired, _, err := h.tokens.Mint("u1", models.RoleUser, principal.SessionID, models.TokenTypeAccess, h.clock.Now().Add(-16*time.Minute))
	require.NoError(t, err)
	_, err = h.auth.VerifyAccess(ctx, expired)
	assert.ErrorIs(t, err, appErrors.ErrTokenExpired)

	fresh := h.login(t)
	h.redis.FlushAll()
	h.sessions.setDown(true)
	_, err = h.auth.VerifyAccess(ctx, fresh.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrServiceUnavailable)
}

func TestRefreshValidatesPayload(t *testing.T) {
	h := newAuthHarness(t)
	_, err := h.auth.Refresh(context.Background(), models.RefreshTokenRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCurrentUser(t *testing.T) {
	h := newAuthHarness(t)
	info, err := h.auth.CurrentUser(context.Background(), models.Principal{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", info.Email)

	_, err = h.auth.CurrentUser(context.Background(), models.Principal{UserID: "gone"})
	assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)
}

func TestAuthOutcomesAreCounted(t *testing.T) {
	h := newAuthHarness(t)
	resp := h.login(t)

	_, err := h.auth.VerifyAccess(context.Background(), resp.AccessToken+"x")
	require.Error(t, err)

	assert.Equal(t, uint64(1), h.metrics.Snapshot().VerificationsRejected)
}
