package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/karoseri/quotedesk/internal/access"
	"github.com/karoseri/quotedesk/internal/app"
	"github.com/karoseri/quotedesk/internal/attachments"
	jobmetrics "github.com/karoseri/quotedesk/internal/jobs"
	"github.com/karoseri/quotedesk/internal/notify"
	"github.com/karoseri/quotedesk/internal/numbering"
	"github.com/karoseri/quotedesk/internal/platform/cache"
	"github.com/karoseri/quotedesk/internal/platform/db"
	"github.com/karoseri/quotedesk/internal/quotation"
	"github.com/karoseri/quotedesk/internal/rbac"
	"github.com/karoseri/quotedesk/internal/shared"
	"github.com/karoseri/quotedesk/internal/users"
	"github.com/karoseri/quotedesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	directory := users.NewDirectory(pool)
	notifier := notify.NewQueue(jobClient, jobs.QueueDefault)

	var objects attachments.ObjectStore = attachments.DiscardStore{}
	if cfg.AttachmentBucket != "" {
		s3Store, err := attachments.NewS3Store(ctx, attachments.S3Options{
			Bucket:   cfg.AttachmentBucket,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.AttachmentEndpoint,
			Prefix:   cfg.AttachmentPrefix,
		})
		if err != nil {
			logger.Error("init attachment store", slog.Any("error", err))
			os.Exit(1)
		}
		objects = s3Store
	}
	cleaner := attachments.NewCleaner(attachments.NewPgReferences(pool), objects, logger)

	numbers := numbering.NewGenerator(numbering.NewPgStore(pool), numbering.Config{
		OrgCode:     cfg.OrgCode,
		MaxAttempts: cfg.SequenceMaxAttempts,
		Backoff:     cfg.SequenceBackoff,
	}, nil, logger)
	filter := access.NewFilter(rbac.NewService(pool, cfg.PermissionTTL))
	quotationService := quotation.NewService(quotation.NewRepository(pool), numbers, filter, directory, cleaner,
		shared.NewApprovalRecorder(pool, logger), shared.NewAuditLogger(pool), quotation.Options{}, logger)

	deliverer := notify.NewDeliverer(notify.NewPgStore(pool), notify.NewPushPublisher(redisClient), directory, jobClient, logger)
	followUp := jobs.NewFollowUpScanJob(quotationService, notifier, logger, metrics)
	imageCleanup := &jobs.ImageCleanupJob{Cleaner: cleaner, Logger: logger}
	mailer := jobs.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, logger)

	scanTask, err := jobs.NewFollowUpScanTask(cfg.FollowUpScanLimit)
	if err != nil {
		logger.Error("build follow-up scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: notify.TaskDeliver, Handler: deliverer.Handle},
			{Type: jobs.TaskTypeSendEmail, Handler: mailer.Handle},
			{Type: jobs.TaskFollowUpScan, Handler: followUp.Handle},
			{Type: jobs.TaskImageCleanup, Handler: imageCleanup.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.FollowUpScanCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
