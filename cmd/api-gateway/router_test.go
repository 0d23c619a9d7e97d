package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/session-auth-api/internal/handler"
	"github.com/noah-isme/session-auth-api/internal/models"
	"github.com/noah-isme/session-auth-api/internal/service"
	"github.com/noah-isme/session-auth-api/pkg/config"
	appErrors "github.com/noah-isme/session-auth-api/pkg/errors"
)

type principalVerifier struct {
	principal *models.Principal
}

func (v principalVerifier) VerifyAccess(ctx context.Context, token string) (*models.Principal, error) {
	if v.principal == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	}
	return v.principal, nil
}

func testRouter(verifier principalVerifier) http.Handler {
	metrics := service.NewMetricsService()
	cfg := &config.Config{APIPrefix: "/api/v1"}
	return newRouter(cfg, zap.NewNop(), metrics, routes{
		verifier: verifier,
		auth:     handler.NewAuthHandler(nil),
		metrics:  handler.NewMetricsHandler(metrics),
	})
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouterPublicEndpoints(t *testing.T) {
	r := testRouter(principalVerifier{})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/metrics", "").Code)
	assert.NotEmpty(t, serve(r, http.MethodGet, "/health", "").Header().Get("X-Request-ID"))
}

func TestRouterProtectsAuthenticatedRoutes(t *testing.T) {
	r := testRouter(principalVerifier{})

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/v1/auth/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/v1/auth/me", "bogus").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodDelete, "/api/v1/admin/sessions/s1", "").Code)
}

func TestRouterAdminRequiresRole(t *testing.T) {
	r := testRouter(principalVerifier{principal: &models.Principal{UserID: "u1", SessionID: "s1", Role: models.RoleUser}})
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodDelete, "/api/v1/admin/sessions/s2", "t").Code)

	r = testRouter(principalVerifier{principal: &models.Principal{UserID: "a1", SessionID: "s1", Role: models.RoleAdmin}})
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/admin/metrics/summary", "t").Code)
}
