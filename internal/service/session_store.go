package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/session-auth-api/internal/models"
	appErrors "github.com/noah-isme/session-auth-api/pkg/errors"
	"github.com/noah-isme/session-auth-api/pkg/jobs"
)

const (
	touchJobType = "session.touch"

	defaultLoadTimeout = 3 * time.Second
	// maxTrackedTouches bounds the throttle map before stale entries are pruned.
	maxTrackedTouches = 10000
)

type sessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	UpdateAccessToken(ctx context.Context, id, accessTokenHash string, usedAt time.Time) (int64, error)
	Touch(ctx context.Context, id string, usedAt time.Time) error
	Deactivate(ctx context.Context, id string, revokedAt time.Time) (bool, error)
}

// SessionStoreConfig tunes caching and advisory last-used updates. LoadTimeout caps the shared
// database read behind a cache miss, which outlives any single caller.
type SessionStoreConfig struct {
	CachePrefix   string
	LoadTimeout   time.Duration
	TouchInterval time.Duration
	TouchWorkers  int
	TouchBuffer   int
	Now           func() time.Time
}

type touchPayload struct {
	SessionID string
	UsedAt    time.Time
}

// SessionStore keeps session records cache-aside over the database. The database is always
// written first; the cache only ever holds copies that are safe to drop.
type SessionStore struct {
	repo    sessionRepository
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	cfg     SessionStoreConfig
	touches *jobs.Queue
	group   singleflight.Group

	touchMu   sync.Mutex
	lastTouch map[string]time.Time
}

// NewSessionStore wires the store and its touch queue. Call Start before serving traffic.
func NewSessionStore(repo sessionRepository, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg SessionStoreConfig) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "session:"
	}
	if cfg.Now == nil {
		cfg.Now = defaultNow
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	s := &SessionStore{
		repo:      repo,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		lastTouch: make(map[string]time.Time),
	}
	s.touches = jobs.NewQueue("session-touch", s.handleTouch, jobs.QueueConfig{
		Workers:    cfg.TouchWorkers,
		BufferSize: cfg.TouchBuffer,
		MaxRetries: -1,
		Logger:     logger,
	})
	return s
}

// Start launches the touch workers.
func (s *SessionStore) Start(ctx context.Context) {
	s.touches.Start(ctx)
}

// Stop drains the touch workers.
func (s *SessionStore) Stop() {
	s.touches.Stop()
}

// Create persists a new session and then caches it. A cache failure does not fail the call.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	start := time.Now()
	err := s.repo.Create(ctx, session)
	s.metrics.ObserveDBQuery("session_create", time.Since(start))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistenceFailure.Code, appErrors.ErrPersistenceFailure.Status, "failed to persist session")
	}
	s.cacheSession(ctx, session)
	return nil
}

// Get returns a session that has not yet expired. Missing and expired records yield
// ErrSessionNotFound; database failures yield ErrServiceUnavailable. Inactive records are returned
// as-is so callers can distinguish revocation.
//
// Concurrent misses for one id share a single database read. That read is detached from the
// caller that started it, so a cancelled caller only abandons its own wait.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	now := s.cfg.Now()

	var cached models.Session
	hit, err := s.cache.Get(ctx, s.cacheKey(id), &cached)
	if err != nil {
		s.logger.Debug("session cache unavailable, reading database", zap.String("session_id", id), zap.Error(err))
	}
	if hit && cached.ID == id {
		if cached.Expired(now) {
			return nil, appErrors.ErrSessionNotFound
		}
		return &cached, nil
	}

	ch := s.group.DoChan(id, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LoadTimeout)
		defer cancel()

		session, err := s.load(loadCtx, id)
		if err != nil {
			return nil, err
		}
		if session.Usable(s.cfg.Now()) {
			s.cacheSession(loadCtx, session)
		}
		return session, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "session lookup abandoned")
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	session := *res.Val.(*models.Session)
	if session.Expired(now) {
		return nil, appErrors.ErrSessionNotFound
	}
	return &session, nil
}

// Reload reads the session straight from the database, bypassing and then refreshing the cache.
func (s *SessionStore) Reload(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.cfg.Now()
	if session.Expired(now) {
		return nil, appErrors.ErrSessionNotFound
	}
	if session.Usable(now) {
		s.cacheSession(ctx, session)
	}
	return session, nil
}

// UpdateAccessToken records a new access token hash and drops the cached copy. A session that is
// no longer active yields ErrSessionRevoked.
func (s *SessionStore) UpdateAccessToken(ctx context.Context, id, accessTokenHash string, usedAt time.Time) error {
	start := time.Now()
	affected, err := s.repo.UpdateAccessToken(ctx, id, accessTokenHash, usedAt)
	s.metrics.ObserveDBQuery("session_update_access", time.Since(start))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistenceFailure.Code, appErrors.ErrPersistenceFailure.Status, "failed to update session")
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrSessionRevoked, "")
	}
	s.evict(ctx, id)
	return nil
}

// Invalidate deactivates the session in the database, then deletes the cache entry. It reports
// whether an active session was switched off.
func (s *SessionStore) Invalidate(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	changed, err := s.repo.Deactivate(ctx, id, s.cfg.Now())
	s.metrics.ObserveDBQuery("session_deactivate", time.Since(start))
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrPersistenceFailure.Code, appErrors.ErrPersistenceFailure.Status, "failed to invalidate session")
	}
	s.evict(ctx, id)
	s.forgetTouch(id)
	return changed, nil
}

// Touch schedules an advisory last-used bump. It never blocks and never fails the caller;
// updates inside the touch interval are skipped and a saturated queue drops the update.
// The interval is measured from the later of the record's LastUsedAt and the last bump this
// store scheduled, since cached copies do not see bumps written after they were cached.
func (s *SessionStore) Touch(session *models.Session, usedAt time.Time) {
	if session == nil || !s.claimTouch(session, usedAt) {
		return
	}
	err := s.touches.TryEnqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    touchJobType,
		Payload: touchPayload{SessionID: session.ID, UsedAt: usedAt},
	})
	if err != nil {
		s.logger.Debug("session touch dropped", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *SessionStore) claimTouch(session *models.Session, usedAt time.Time) bool {
	s.touchMu.Lock()
	defer s.touchMu.Unlock()

	last := session.LastUsedAt
	if t, ok := s.lastTouch[session.ID]; ok && t.After(last) {
		last = t
	}
	if usedAt.Sub(last) < s.cfg.TouchInterval {
		return false
	}
	if len(s.lastTouch) >= maxTrackedTouches {
		for id, t := range s.lastTouch {
			if usedAt.Sub(t) >= s.cfg.TouchInterval {
				delete(s.lastTouch, id)
			}
		}
	}
	s.lastTouch[session.ID] = usedAt
	return true
}

func (s *SessionStore) forgetTouch(id string) {
	s.touchMu.Lock()
	delete(s.lastTouch, id)
	s.touchMu.Unlock()
}

func (s *SessionStore) handleTouch(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(touchPayload)
	if !ok {
		return nil
	}
	if err := s.repo.Touch(ctx, payload.SessionID, payload.UsedAt); err != nil {
		s.logger.Warn("session touch failed", zap.String("session_id", payload.SessionID), zap.Error(err))
		return err
	}
	return nil
}

func (s *SessionStore) load(ctx context.Context, id string) (*models.Session, error) {
	start := time.Now()
	session, err := s.repo.FindByID(ctx, id)
	s.metrics.ObserveDBQuery("session_find", time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "session store unavailable")
	}
	return session, nil
}

// cacheSession never lets an entry outlive the session itself.
func (s *SessionStore) cacheSession(ctx context.Context, session *models.Session) {
	if !s.cache.Enabled() {
		return
	}
	ttl := session.ExpiresAt.Sub(s.cfg.Now())
	if ttl <= 0 {
		return
	}
	if def := s.cache.DefaultTTL(); ttl > def {
		ttl = def
	}
	if err := s.cache.Set(ctx, s.cacheKey(session.ID), session, ttl); err != nil {
		s.logger.Warn("session cache write failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *SessionStore) evict(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, s.cacheKey(id)); err != nil {
		s.logger.Warn("session cache eviction failed", zap.String("session_id", id), zap.Error(err))
	}
}

func (s *SessionStore) cacheKey(id string) string {
	return s.cfg.CachePrefix + id
}
