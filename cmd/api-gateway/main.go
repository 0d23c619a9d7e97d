package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/session-auth-api/internal/handler"
	"github.com/noah-isme/session-auth-api/internal/repository"
	"github.com/noah-isme/session-auth-api/internal/service"
	"github.com/noah-isme/session-auth-api/pkg/cache"
	"github.com/noah-isme/session-auth-api/pkg/config"
	"github.com/noah-isme/session-auth-api/pkg/database"
	"github.com/noah-isme/session-auth-api/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(context.Background(), cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	// Sessions stay correct without redis; every read then goes to postgres.
	var redisClient *redis.Client
	if client, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, running without session cache", zap.Error(err))
	} else {
		redisClient = client
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	tokens := service.NewTokenService(service.TokenConfig{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
	}, nil)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Session.CacheTTL, logr, redisClient != nil)
	store := service.NewSessionStore(sessionRepo, cacheSvc, metrics, logr, service.SessionStoreConfig{
		CachePrefix:   cfg.Session.CachePrefix,
		TouchInterval: cfg.Session.TouchInterval,
		TouchWorkers:  cfg.Session.TouchWorkers,
		TouchBuffer:   cfg.Session.TouchBuffer,
	})
	registry := service.NewRevocationRegistry(redisClient, cfg.Session.RevocationPrefix, nil, metrics, logr)
	verifier := service.NewTokenVerifier(tokens, store, registry, nil, logr)
	authSvc := service.NewAuthService(service.AuthComponents{
		Users:     userRepo,
		Tokens:    tokens,
		Store:     store,
		Registry:  registry,
		Issuer:    service.NewCredentialIssuer(tokens, store, nil, logr),
		Verifier:  verifier,
		Refresher: service.NewRefreshCoordinator(verifier, tokens, store, userRepo, nil, logr),
	}, validator.New(), metrics, logr)

	router := newRouter(cfg, logr, metrics, routes{
		verifier: authSvc,
		auth:     handler.NewAuthHandler(authSvc),
		metrics:  handler.NewMetricsHandler(metrics),
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store.Start(ctx)
	defer store.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logr.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Janitor.Enabled {
		janitor := service.NewSessionJanitor(sessionRepo, metrics, logr, service.SessionJanitorConfig{
			Interval:  cfg.Janitor.Interval,
			Retention: cfg.Janitor.Retention,
			BatchSize: cfg.Janitor.BatchSize,
		})
		g.Go(func() error {
			return janitor.Run(gctx)
		})
	}

	return g.Wait()
}
