package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"omip-curator/api"
	"omip-curator/config"
	"omip-curator/providers/parser"
	"omip-curator/queue"
	"omip-curator/repository"
	"omip-curator/services"
	"omip-curator/storage"
	"omip-curator/worker"

	"github.com/avast/retry-go/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Datenbank
	db, err := openDatabase(ctx, cfg, logging)
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")
	logging.Info("Running database auto-migration...")
	if err := repository.Migrate(db); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}
	store := repository.New(db, logging)

	// Objektspeicher
	objects, err := storage.NewS3Store(ctx, storage.S3Options{
		URL:    cfg.S3URL,
		Region: cfg.S3Region,
		Key:    cfg.S3Key,
		Secret: cfg.S3Secret,
		Bucket: cfg.S3Bucket,
	}, logging)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	if err := objects.EnsureBucket(ctx, cfg.StartupWaitTimeout); err != nil {
		logging.Fatal("Object store not available", zap.Error(err))
	}

	// Warteschlange
	jobs := queue.NewRedisQueue(queue.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Name:     cfg.QueueName,
	}, logging)
	defer jobs.Close()
	if err := jobs.WaitReady(ctx, cfg.StartupWaitTimeout); err != nil {
		logging.Fatal("Queue not available", zap.Error(err))
	}

	parseEngine := parser.NewClient(cfg.ParserAPIURL, cfg.ParserTimeout, logging)
	curation := services.NewCurationService(store, objects, parseEngine, jobs, logging)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RunsWorkers() {
		pool := worker.NewPool(worker.Options{
			Name:    cfg.WorkerName,
			Workers: cfg.WorkerCount,
			Limits:  worker.Limits{Soft: cfg.JobSoftTimeLimit, Hard: cfg.JobHardTimeLimit},
			Retry: worker.RetryPolicy{
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseDelay:   cfg.RetryBaseDelay,
				MaxDelay:    cfg.RetryMaxDelay,
				Jitter:      cfg.RetryJitter,
			},
		}, jobs, curation.JobHandler(), logging)
		g.Go(func() error { return pool.Run(gctx) })
	}

	// Cron: Batch-Zähler abgleichen und Queue-Metriken aktualisieren
	cronScheduler := cron.New()
	_, err = cronScheduler.AddFunc(cfg.ReconcileSchedule, func() {
		logging.Info("Running scheduled reconciliation...")
		changed, err := curation.Reconcile(gctx)
		if err != nil {
			logging.Error("Reconciliation failed", zap.Error(err))
		} else {
			logging.Info("Reconciliation completed", zap.Int("batches_changed", changed))
		}
		if err := curation.RefreshQueueDepth(gctx); err != nil {
			logging.Warn("Queue depth refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		logging.Fatal("Invalid RECONCILE_SCHEDULE", zap.String("schedule", cfg.ReconcileSchedule), zap.Error(err))
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	if cfg.RunsAPI() {
		router := api.NewRouter(api.Deps{
			Service: curation,
			Queue:   jobs,
			Parser:  parseEngine,
			Logger:  logging,
		})
		srv := &http.Server{
			Addr:              ":" + cfg.HTTPPort,
			Handler:           router,
			ReadTimeout:       5 * time.Minute,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       120 * time.Second,
		}
		g.Go(func() error {
			logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logging.Info("Service started", zap.String("mode", cfg.Mode))
	if err := g.Wait(); err != nil {
		logging.Error("Service stopped with error", zap.Error(err))
		return
	}
	logging.Info("Service stopped.")
}

// openDatabase verbindet sich mit PostgreSQL und wartet, bis die Datenbank erreichbar ist.
func openDatabase(ctx context.Context, cfg *config.Config, logging *zap.Logger) (*gorm.DB, error) {
	var db *gorm.DB
	err := retry.Do(
		func() error {
			conn, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Silent),
			})
			if err != nil {
				return err
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.PingContext(ctx); err != nil {
				return err
			}
			db = conn
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(cfg.StartupWaitTimeout.Seconds()/2)+1),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logging.Warn("Database not ready", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	return db, err
}
