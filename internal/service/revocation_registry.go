package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RevocationRegistry is a self-expiring set of explicitly revoked tokens and sessions kept in redis.
// Token entries are keyed by the token hash and session entries by session id; both expire with
// what they revoke, so the set stays bounded.
type RevocationRegistry struct {
	client  *redis.Client
	prefix  string
	now     func() time.Time
	metrics *MetricsService
	logger  *zap.Logger
}

// NewRevocationRegistry builds a registry. A nil client disables it: Add becomes a no-op and
// Contains reports false, which is only safe because sessions are then read from the database on
// every verification.
func NewRevocationRegistry(client *redis.Client, prefix string, now func() time.Time, metrics *MetricsService, logger *zap.Logger) *RevocationRegistry {
	if prefix == "" {
		prefix = "revoked:"
	}
	if now == nil {
		now = defaultNow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevocationRegistry{client: client, prefix: prefix, now: now, metrics: metrics, logger: logger}
}

// Enabled reports whether the registry is backed by redis.
func (r *RevocationRegistry) Enabled() bool {
	return r != nil && r.client != nil
}

// Add revokes a token until its own expiry. Already expired tokens are not stored.
func (r *RevocationRegistry) Add(ctx context.Context, token string, expiresAt time.Time) error {
	if !r.Enabled() {
		return nil
	}
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	r.metrics.RecordRevocation()
	return nil
}

// AddSession revokes every token of a session for ttl, which should cover the session's remaining
// lifetime. A cached copy of the session that is still marked active cannot outvote it.
func (r *RevocationRegistry) AddSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	if !r.Enabled() || ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.sessionKey(sessionID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	r.metrics.RecordRevocation()
	return nil
}

// Contains reports whether a token has been revoked.
func (r *RevocationRegistry) Contains(ctx context.Context, token string) (bool, error) {
	tokenRevoked, _, err := r.Check(ctx, token, "")
	return tokenRevoked, err
}

// Check looks up a token and, when sessionID is set, its session in one round trip.
func (r *RevocationRegistry) Check(ctx context.Context, token, sessionID string) (tokenRevoked, sessionRevoked bool, err error) {
	if !r.Enabled() {
		return false, false, nil
	}
	keys := []string{r.key(token)}
	if sessionID != "" {
		keys = append(keys, r.sessionKey(sessionID))
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return false, false, fmt.Errorf("check revocation: %w", err)
	}
	tokenRevoked = vals[0] != nil
	if len(vals) > 1 {
		sessionRevoked = vals[1] != nil
	}
	return tokenRevoked, sessionRevoked, nil
}

func (r *RevocationRegistry) key(token string) string {
	return r.prefix + HashToken(token)
}

func (r *RevocationRegistry) sessionKey(sessionID string) string {
	return r.prefix + "session:" + sessionID
}
