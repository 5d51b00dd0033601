// Package main runs the webinar sync API server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/sync-engine/config"
	"github.com/aura-webinar/sync-engine/internal/auth"
	"github.com/aura-webinar/sync-engine/internal/connections"
	"github.com/aura-webinar/sync-engine/internal/fetcher"
	"github.com/aura-webinar/sync-engine/internal/middleware"
	"github.com/aura-webinar/sync-engine/internal/reconciler"
	"github.com/aura-webinar/sync-engine/internal/retry"
	syncsvc "github.com/aura-webinar/sync-engine/internal/sync"
	"github.com/aura-webinar/sync-engine/internal/syncrun"
	"github.com/aura-webinar/sync-engine/internal/upstream"
	"github.com/aura-webinar/sync-engine/internal/verify"
	"github.com/aura-webinar/sync-engine/pkg/database"
	"github.com/aura-webinar/sync-engine/pkg/queue"
	"github.com/aura-webinar/sync-engine/pkg/redis"
	"github.com/aura-webinar/sync-engine/pkg/response"
	"github.com/aura-webinar/sync-engine/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		ReportsBucket:   cfg.AWS.ReportsBucket,
	}, logger)
	if err != nil {
		logger.Warn("report archival disabled", zap.Error(err))
		s3Client = nil
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authHandler := auth.NewHandler(jwtService, cfg.JWT.ServiceKey, logger)

	upstreamClient := upstream.NewClient(
		cfg.Upstream.BaseURL,
		upstream.StaticTokenProvider{Value: cfg.Upstream.StaticToken},
		cfg.Upstream.PageSize,
		cfg.Upstream.RequestTimeout,
		logger,
	)

	connRepo := connections.NewRepository(pool)
	runRepo := syncrun.NewRepository(pool)
	tracker := syncrun.NewTracker(runRepo, time.Duration(cfg.Sync.HeartbeatSec)*time.Second, logger)

	excluded := make(map[string]struct{}, len(cfg.Sync.ExcludedWebinarIDs))
	for _, id := range cfg.Sync.ExcludedWebinarIDs {
		excluded[id] = struct{}{}
	}
	fetch := fetcher.New(upstreamClient, fetcher.Config{
		LookbackDays:    cfg.Sync.LookbackDays,
		LookaheadDays:   cfg.Sync.LookaheadDays,
		IncrementalDays: cfg.Sync.IncrementalDays,
		MaxPages:        cfg.Sync.MaxPages,
		Excluded:        excluded,
	}, logger)

	rec := reconciler.New(pool, cfg.Sync.BatchSize, logger)
	verifier := verify.New(verify.NewRepository(pool), logger)
	retries := retry.New(retry.NewRepository(pool), retry.BackoffConfig{
		BaseDelay:  time.Duration(cfg.Sync.RetryBaseDelayMS) * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   time.Duration(cfg.Sync.RetryMaxDelayMS) * time.Millisecond,
	}, cfg.Sync.MaxRetryAttempts, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	svc := syncsvc.NewService(cfg.Sync, connRepo, runRepo, tracker, fetch, rec, verifier, retries,
		upstreamClient, jobQueue, rdb, s3Client, logger)
	syncHandler := syncsvc.NewHandler(svc, connRepo, runRepo, rec, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	router.POST("/auth/token", authHandler.Token)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/connections", syncHandler.CreateConnection)
		api.GET("/connections", syncHandler.ListConnections)
		api.POST("/connections/:id/sync", syncHandler.StartSync)
		api.GET("/connections/:id/sync-runs", syncHandler.ListRuns)
		api.GET("/connections/:id/webinars", syncHandler.ListWebinars)
		api.GET("/sync-runs/:id", syncHandler.GetRun)
	}

	// WebSocket progress stream (token in query; no Authorization header required)
	router.GET("/sync-runs/:id/ws", syncsvc.ServeProgressWS(runRepo, func(token string) error {
		_, err := jwtService.Validate(token)
		return err
	}, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
