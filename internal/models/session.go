package models

import "time"

// ClientMeta describes the client that opened a session.
type ClientMeta struct {
	UserAgent string `db:"user_agent" json:"user_agent"`
	IP        string `db:"ip_address" json:"ip"`
}

// Session is the server-side record binding a session id to an identity.
// Only the hashes of the most recently minted token pair are stored.
type Session struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	LastUsedAt       time.Time  `db:"last_used_at" json:"last_used_at"`
	AccessTokenHash  string     `db:"access_token_hash" json:"access_token_hash"`
	RefreshTokenHash string     `db:"refresh_token_hash" json:"refresh_token_hash"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	RevokedAt        *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	ClientMeta
}

// Expired reports whether the session lifetime has elapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Usable reports whether the session can still authorize requests at now.
func (s *Session) Usable(now time.Time) bool {
	return s != nil && s.IsActive && !s.Expired(now)
}

// SweepResult summarises one janitor pass.
type SweepResult struct {
	Deactivated int64         `json:"deactivated"`
	Deleted     int64         `json:"deleted"`
	Duration    time.Duration `json:"duration"`
}
