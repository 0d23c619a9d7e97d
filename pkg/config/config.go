package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Session  SessionConfig
	Janitor  JanitorConfig
	CORS     CORSConfig
	Log      LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds signing material and lifetimes. Access and refresh tokens are signed with
// different secrets so one type can never be replayed as the other.
type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      []string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// SessionConfig tunes the session cache and the advisory last-used updates.
type SessionConfig struct {
	CacheTTL         time.Duration
	CachePrefix      string
	RevocationPrefix string
	TouchInterval    time.Duration
	TouchWorkers     int
	TouchBuffer      int
}

// JanitorConfig controls the expired-session sweep.
type JanitorConfig struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration
	BatchSize int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		AccessSecret:  v.GetString("JWT_ACCESS_SECRET"),
		RefreshSecret: v.GetString("JWT_REFRESH_SECRET"),
		Issuer:        v.GetString("JWT_ISSUER"),
		Audience:      splitAndTrim(v.GetString("JWT_AUDIENCE")),
		AccessTTL:     parseDuration(v.GetString("ACCESS_TOKEN_TTL"), 15*time.Minute),
		RefreshTTL:    parseDuration(v.GetString("REFRESH_TOKEN_TTL"), 7*24*time.Hour),
	}

	cfg.Session = SessionConfig{
		CacheTTL:         parseDuration(v.GetString("SESSION_CACHE_TTL"), 10*time.Minute),
		CachePrefix:      v.GetString("SESSION_CACHE_PREFIX"),
		RevocationPrefix: v.GetString("REVOCATION_PREFIX"),
		TouchInterval:    parseDuration(v.GetString("SESSION_TOUCH_INTERVAL"), time.Minute),
		TouchWorkers:     v.GetInt("SESSION_TOUCH_WORKERS"),
		TouchBuffer:      v.GetInt("SESSION_TOUCH_BUFFER"),
	}

	cfg.Janitor = JanitorConfig{
		Enabled:   v.GetBool("JANITOR_ENABLED"),
		Interval:  parseDuration(v.GetString("JANITOR_INTERVAL"), 15*time.Minute),
		Retention: parseDuration(v.GetString("JANITOR_RETENTION"), 24*time.Hour),
		BatchSize: v.GetInt("JANITOR_BATCH_SIZE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that would weaken token guarantees.
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return errors.New("jwt secrets must not be empty")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("access and refresh tokens must use distinct secrets")
	}
	if c.Env == EnvProduction && (c.JWT.AccessSecret == devAccessSecret || c.JWT.RefreshSecret == devRefreshSecret) {
		return errors.New("development jwt secrets are not allowed in production")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("token ttls must be positive")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return fmt.Errorf("access token ttl %s must be shorter than refresh token ttl %s", c.JWT.AccessTTL, c.JWT.RefreshTTL)
	}
	if c.Session.CacheTTL <= 0 {
		return errors.New("session cache ttl must be positive")
	}
	return nil
}

const (
	devAccessSecret  = "dev_access_secret"
	devRefreshSecret = "dev_refresh_secret"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "auth_sessions")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_ACCESS_SECRET", devAccessSecret)
	v.SetDefault("JWT_REFRESH_SECRET", devRefreshSecret)
	v.SetDefault("JWT_ISSUER", "session-auth-api")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h")

	v.SetDefault("SESSION_CACHE_TTL", "10m")
	v.SetDefault("SESSION_CACHE_PREFIX", "session:")
	v.SetDefault("REVOCATION_PREFIX", "revoked:")
	v.SetDefault("SESSION_TOUCH_INTERVAL", "1m")
	v.SetDefault("SESSION_TOUCH_WORKERS", 2)
	v.SetDefault("SESSION_TOUCH_BUFFER", 256)

	v.SetDefault("JANITOR_ENABLED", true)
	v.SetDefault("JANITOR_INTERVAL", "15m")
	v.SetDefault("JANITOR_RETENTION", "24h")
	v.SetDefault("JANITOR_BATCH_SIZE", 500)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
