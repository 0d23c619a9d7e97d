package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/session-auth-api/internal/models"
)

const sessionColumns = `id, user_id, created_at, expires_at, last_used_at, access_token_hash, refresh_token_hash, user_agent, ip_address, is_active, revoked_at`

// SessionRepository is the authoritative store for session records.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	const query = `INSERT INTO sessions (` + sessionColumns + `) VALUES (:id, :user_id, :created_at, :expires_at, :last_used_at, :access_token_hash, :refresh_token_hash, :user_agent, :ip_address, :is_active, :revoked_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns the session row or sql.ErrNoRows.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// UpdateAccessToken records a newly minted access token hash. Only active rows are updated, so a
// refresh that races with a logout cannot resurrect the session; the returned count is zero then.
func (r *SessionRepository) UpdateAccessToken(ctx context.Context, id, accessTokenHash string, usedAt time.Time) (int64, error) {
	const query = `UPDATE sessions SET access_token_hash = $2, last_used_at = $3 WHERE id = $1 AND is_active = TRUE`
	res, err := r.db.ExecContext(ctx, query, id, accessTokenHash, usedAt)
	if err != nil {
		return 0, fmt.Errorf("update session access token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update session access token rows: %w", err)
	}
	return affected, nil
}

// Touch bumps last_used_at. It never moves the timestamp backwards.
func (r *SessionRepository) Touch(ctx context.Context, id string, usedAt time.Time) error {
	const query = `UPDATE sessions SET last_used_at = $2 WHERE id = $1 AND is_active = TRUE AND last_used_at < $2`
	if _, err := r.db.ExecContext(ctx, query, id, usedAt); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a session. It reports whether an active row was switched off.
func (r *SessionRepository) Deactivate(ctx context.Context, id string, revokedAt time.Time) (bool, error) {
	const query = `UPDATE sessions SET is_active = FALSE, revoked_at = $2 WHERE id = $1 AND is_active = TRUE`
	res, err := r.db.ExecContext(ctx, query, id, revokedAt)
	if err != nil {
		return false, fmt.Errorf("deactivate session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate session rows: %w", err)
	}
	return affected > 0, nil
}

// DeactivateExpired switches off every active session whose lifetime has elapsed.
func (r *SessionRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE sessions SET is_active = FALSE, revoked_at = $1 WHERE is_active = TRUE AND expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteInactive hard-deletes up to limit inactive rows that expired or were revoked before cutoff.
func (r *SessionRepository) DeleteInactive(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	const query = `DELETE FROM sessions WHERE id IN (SELECT id FROM sessions WHERE is_active = FALSE AND (expires_at < $1 OR revoked_at < $1) LIMIT $2)`
	res, err := r.db.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete inactive sessions: %w", err)
	}
	return res.RowsAffected()
}
