package models

import "time"

// MetricsSnapshot aggregates counters for the internal metrics summary endpoint.
type MetricsSnapshot struct {
	SessionCacheHitRatio     float64   `json:"session_cache_hit_ratio"`
	SessionCacheHits         uint64    `json:"session_cache_hits"`
	SessionCacheMisses       uint64    `json:"session_cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	VerificationsRejected    uint64    `json:"verifications_rejected"`
	SessionsSwept            uint64    `json:"sessions_swept"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
