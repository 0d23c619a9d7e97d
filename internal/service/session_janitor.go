package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/session-auth-api/internal/models"
	"github.com/noah-isme/session-auth-api/pkg/jobs"
)

const sweepJobType = "session.sweep"

type sweepRepository interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteInactive(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// SessionJanitorConfig controls sweep cadence and retention.
type SessionJanitorConfig struct {
	Interval   time.Duration
	Retention  time.Duration
	BatchSize  int
	RetryDelay time.Duration
	Now        func() time.Time
}

// SessionJanitor retires expired session rows in the background. Cache entries expire on their own.
type SessionJanitor struct {
	repo    sweepRepository
	cfg     SessionJanitorConfig
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewSessionJanitor constructs a janitor.
func NewSessionJanitor(repo sweepRepository, metrics *MetricsService, logger *zap.Logger, cfg SessionJanitorConfig) *SessionJanitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Retention < 0 {
		cfg.Retention = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = defaultNow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &SessionJanitor{repo: repo, cfg: cfg, metrics: metrics, logger: logger}
	j.queue = jobs.NewQueue("session-janitor", j.handle, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 1,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return j
}

// Sweep deactivates sessions past their expiry, then hard-deletes inactive rows older than the
// retention window in batches. Running it repeatedly or concurrently is harmless.
func (j *SessionJanitor) Sweep(ctx context.Context) (models.SweepResult, error) {
	start := time.Now()
	now := j.cfg.Now()
	var result models.SweepResult

	deactivated, err := j.repo.DeactivateExpired(ctx, now)
	if err != nil {
		return result, fmt.Errorf("sweep deactivate: %w", err)
	}
	result.Deactivated = deactivated

	cutoff := now.Add(-j.cfg.Retention)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		deleted, err := j.repo.DeleteInactive(ctx, cutoff, j.cfg.BatchSize)
		if err != nil {
			return result, fmt.Errorf("sweep delete: %w", err)
		}
		result.Deleted += deleted
		if deleted < int64(j.cfg.BatchSize) {
			break
		}
	}

	result.Duration = time.Since(start)
	j.metrics.RecordSweep(result)
	j.logger.Info("session sweep completed",
		zap.Int64("deactivated", result.Deactivated),
		zap.Int64("deleted", result.Deleted),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// Run sweeps once immediately and then on every interval until ctx is cancelled. A tick that
// finds a sweep still pending is skipped.
func (j *SessionJanitor) Run(ctx context.Context) error {
	j.queue.Start(ctx)
	defer j.queue.Stop()

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	j.schedule()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.schedule()
		}
	}
}

func (j *SessionJanitor) schedule() {
	if err := j.queue.TryEnqueue(jobs.Job{ID: uuid.NewString(), Type: sweepJobType}); err != nil {
		j.logger.Debug("session sweep skipped", zap.Error(err))
	}
}

func (j *SessionJanitor) handle(ctx context.Context, _ jobs.Job) error {
	_, err := j.Sweep(ctx)
	if err != nil {
		j.logger.Warn("session sweep failed", zap.Error(err))
	}
	return err
}
