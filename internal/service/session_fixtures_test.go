package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/session-auth-api/internal/models"
	"github.com/noah-isme/session-auth-api/internal/repository"
)

var errStoreDown = errors.New("connection refused")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memorySessionRepo struct {
	mu        sync.Mutex
	sessions  map[string]models.Session
	down      bool
	createErr error
	finds     int
	touches   chan string

	// gate, when set, holds FindByID until it is closed or the call's context ends.
	gate    chan struct{}
	entered chan struct{}
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{
		sessions: make(map[string]models.Session),
		touches:  make(chan string, 16),
		entered:  make(chan struct{}, 16),
	}
}

func (m *memorySessionRepo) holdFinds() chan struct{} {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	return gate
}

func (m *memorySessionRepo) setDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

func (m *memorySessionRepo) findCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finds
}

func (m *memorySessionRepo) row(id string) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *memorySessionRepo) put(s models.Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

func (m *memorySessionRepo) Create(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errStoreDown
	}
	if m.createErr != nil {
		return m.createErr
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *memorySessionRepo) FindByID(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	m.finds++
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, errStoreDown
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (m *memorySessionRepo) UpdateAccessToken(ctx context.Context, id, accessTokenHash string, usedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return 0, errStoreDown
	}
	s, ok := m.sessions[id]
	if !ok || !s.IsActive {
		return 0, nil
	}
	s.AccessTokenHash = accessTokenHash
	s.LastUsedAt = usedAt
	m.sessions[id] = s
	return 1, nil
}

func (m *memorySessionRepo) Touch(ctx context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errStoreDown
	}
	if s, ok := m.sessions[id]; ok && s.IsActive && s.LastUsedAt.Before(usedAt) {
		s.LastUsedAt = usedAt
		m.sessions[id] = s
	}
	select {
	case m.touches <- id:
	default:
	}
	return nil
}

func (m *memorySessionRepo) Deactivate(ctx context.Context, id string, revokedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false, errStoreDown
	}
	s, ok := m.sessions[id]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	s.RevokedAt = &revokedAt
	m.sessions[id] = s
	return true, nil
}

type memoryUserRepo struct {
	mu     sync.Mutex
	users  map[string]*models.User
	logins map[string]time.Time
}

func (m *memoryUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

func (m *memoryUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[id] = ts
	return nil
}

func (m *memoryUserRepo) setActive(id string, active bool) {
	m.mu.Lock()
	m.users[id].Active = active
	m.mu.Unlock()
}

const testPassword = "correct horse battery staple"

type authHarness struct {
	clock     *testClock
	redis     *miniredis.Miniredis
	client    *redis.Client
	sessions  *memorySessionRepo
	users     *memoryUserRepo
	tokens    *TokenService
	cache     *CacheService
	store     *SessionStore
	registry  *RevocationRegistry
	issuer    *CredentialIssuer
	verifier  *TokenVerifier
	refresher *RefreshCoordinator
	metrics   *MetricsService
	auth      *AuthService
}

func testTokenConfig() TokenConfig {
	return TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "session-auth-api",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}
}

func newAuthHarness(t *testing.T) *authHarness {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	h := &authHarness{clock: newTestClock(), sessions: newMemorySessionRepo()}
	h.users = &memoryUserRepo{
		users: map[string]*models.User{
			"u1": {ID: "u1", Email: "u1@example.com", PasswordHash: string(hash), FullName: "User One", Role: models.RoleUser, Active: true},
			"u2": {ID: "u2", Email: "u2@example.com", PasswordHash: string(hash), FullName: "User Two", Role: models.RoleAdmin, Active: false},
		},
		logins: make(map[string]time.Time),
	}

	h.redis = miniredis.RunT(t)
	h.client = redis.NewClient(&redis.Options{Addr: h.redis.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = h.client.Close() })

	h.metrics = NewMetricsService()
	h.tokens = NewTokenService(testTokenConfig(), h.clock.Now)
	h.cache = NewCacheService(repository.NewCacheRepository(h.client, nil), h.metrics, 10*time.Minute, nil, true)
	h.store = NewSessionStore(h.sessions, h.cache, h.metrics, nil, SessionStoreConfig{
		CachePrefix:   "session:",
		TouchInterval: time.Minute,
		TouchWorkers:  1,
		TouchBuffer:   8,
		Now:           h.clock.Now,
	})
	h.store.Start(context.Background())
	t.Cleanup(h.store.Stop)

	h.registry = NewRevocationRegistry(h.client, "revoked:", h.clock.Now, h.metrics, nil)
	h.issuer = NewCredentialIssuer(h.tokens, h.store, h.clock.Now, nil)
	h.verifier = NewTokenVerifier(h.tokens, h.store, h.registry, h.clock.Now, nil)
	h.refresher = NewRefreshCoordinator(h.verifier, h.tokens, h.store, h.users, h.clock.Now, nil)
	h.auth = NewAuthService(AuthComponents{
		Users:     h.users,
		Tokens:    h.tokens,
		Store:     h.store,
		Registry:  h.registry,
		Issuer:    h.issuer,
		Verifier:  h.verifier,
		Refresher: h.refresher,
	}, validator.New(), h.metrics, nil)
	return h
}

func (h *authHarness) login(t *testing.T) *models.LoginResponse {
	t.Helper()
	resp, err := h.auth.Login(context.Background(), models.LoginRequest{Email: "u1@example.com", Password: testPassword, IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	return resp
}

func (h *authHarness) sessionOf(t *testing.T, token string) models.Session {
	t.Helper()
	claims, err := h.tokens.Parse(token)
	require.NoError(t, err)
	s, ok := h.sessions.row(claims.SessionID)
	require.True(t, ok)
	return s
}
