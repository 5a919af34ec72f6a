package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"stockbook/backend/internal/blob"
	"stockbook/backend/internal/cache"
	"stockbook/backend/internal/config"
	"stockbook/backend/internal/httpapi"
	"stockbook/backend/internal/jobs"
	"stockbook/backend/internal/lock"
	"stockbook/backend/internal/logging"
	"stockbook/backend/internal/observability"
	"stockbook/backend/internal/service"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/store/memory"
	pgstore "stockbook/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatalf("migrate: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory")
	}

	opts := service.Options{
		DashboardTTL: cfg.DashboardCacheTTL(),
		MaxRetries:   cfg.LedgerMaxRetries,
		Logger:       logger,
		Metrics:      observability.NewMetrics(),
	}

	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		dashboardCache := cache.NewRedisDashboardCache(rdb)
		if err := dashboardCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache and inline jobs")
			_ = rdb.Close()
		} else {
			queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			opts.Cache = dashboardCache
			opts.Locker = lock.NewRedisLocker(rdb, lock.RedisOptions{TTL: 10 * time.Second, Retries: 40})
			opts.Dispatcher = queue
			closers = append(closers, queue.Close, rdb.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	if cfg.GCSBucket != "" {
		gcs, err := blob.NewGCSStore(ctx, blob.GCSConfig{
			Bucket:          cfg.GCSBucket,
			PublicBaseURL:   cfg.GCSPublicBaseURL,
			CredentialsJSON: cfg.GCSCredentialsJSON,
		})
		if err != nil {
			logger.Fatalf("gcs unavailable: %v", err)
		}
		opts.Blobs = gcs
		closers = append(closers, gcs.Close)
		logger.WithField("bucket", cfg.GCSBucket).Info("blobs: gcs")
	} else {
		opts.Blobs = blob.NewMemoryStore("")
		logger.Info("blobs: in-memory")
	}

	svc := service.New(repo, opts)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL(), repo, logger)
	api := httpapi.New(svc, auth, httpapi.Config{
		AllowedOrigin:  cfg.AllowedOrigin,
		UploadMaxBytes: cfg.UploadMaxBytes,
		Logger:         logger,
		Metrics:        opts.Metrics,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("stockbook backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("close error")
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.LedgerMaxRetries > 20 {
		return fmt.Errorf("LEDGER_MAX_RETRIES must be at most 20")
	}
	return nil
}
