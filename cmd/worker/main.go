// Package main runs the background sync worker consuming run jobs from Redis.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/sync-engine/config"
	"github.com/aura-webinar/sync-engine/internal/connections"
	"github.com/aura-webinar/sync-engine/internal/fetcher"
	"github.com/aura-webinar/sync-engine/internal/reconciler"
	"github.com/aura-webinar/sync-engine/internal/retry"
	syncsvc "github.com/aura-webinar/sync-engine/internal/sync"
	"github.com/aura-webinar/sync-engine/internal/syncrun"
	"github.com/aura-webinar/sync-engine/internal/upstream"
	"github.com/aura-webinar/sync-engine/internal/verify"
	"github.com/aura-webinar/sync-engine/internal/worker"
	"github.com/aura-webinar/sync-engine/pkg/database"
	"github.com/aura-webinar/sync-engine/pkg/queue"
	"github.com/aura-webinar/sync-engine/pkg/redis"
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
		upstreamClient, nil, rdb, s3Client, logger)

	processor := worker.NewSyncProcessor(svc, jobQueue,
		time.Duration(cfg.Sync.OverallTimeoutMin)*time.Minute, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
