package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"stockbook/backend/internal/blob"
	"stockbook/backend/internal/config"
	"stockbook/backend/internal/jobs"
	"stockbook/backend/internal/logging"
	"stockbook/backend/internal/observability"
	"stockbook/backend/internal/service"
	pgstore "stockbook/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.DatabaseURL == "" || cfg.RedisAddr == "" {
		logger.Fatal("worker requires DATABASE_URL and REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	repo, err := pgstore.New(startCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("postgres unavailable: %v", err)
	}
	defer repo.Close()

	var blobs blob.Store = blob.NewMemoryStore("")
	if cfg.GCSBucket != "" {
		gcs, err := blob.NewGCSStore(startCtx, blob.GCSConfig{
			Bucket:          cfg.GCSBucket,
			PublicBaseURL:   cfg.GCSPublicBaseURL,
			CredentialsJSON: cfg.GCSCredentialsJSON,
		})
		if err != nil {
			logger.Fatalf("gcs unavailable: %v", err)
		}
		defer gcs.Close()
		blobs = gcs
	}

	metrics := observability.NewMetrics()
	svc := service.New(repo, service.Options{
		Blobs:      blobs,
		Logger:     logger,
		Metrics:    metrics,
		MaxRetries: cfg.LedgerMaxRetries,
	})

	reconcile := &jobs.LedgerReconcileJob{Reconciler: svc, Logger: logger, Metrics: metrics}
	cleanup := &jobs.BlobCleanupJob{Blobs: blobs, Logger: logger, Metrics: metrics}

	var cron []jobs.CronRegistration
	if cfg.ReconcileCron != "" {
		task, err := jobs.NewLedgerReconcileTask("")
		if err != nil {
			logger.Fatalf("build reconcile task: %v", err)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.ReconcileCron,
			Task:    task,
			Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerReconcile, Handler: reconcile.Handle},
			{Type: jobs.TaskBlobCleanup, Handler: cleanup.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Fatalf("build worker: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"concurrency": cfg.WorkerConcurrency,
		"cron":        cfg.ReconcileCron,
	}).Info("stockbook worker started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("worker stopped with error")
	}
}
