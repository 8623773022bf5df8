package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/karoseri/quotedesk/internal/access"
	"github.com/karoseri/quotedesk/internal/app"
	"github.com/karoseri/quotedesk/internal/attachments"
	"github.com/karoseri/quotedesk/internal/conversion"
	"github.com/karoseri/quotedesk/internal/notify"
	"github.com/karoseri/quotedesk/internal/numbering"
	"github.com/karoseri/quotedesk/internal/observability"
	"github.com/karoseri/quotedesk/internal/platform/cache"
	"github.com/karoseri/quotedesk/internal/platform/db"
	"github.com/karoseri/quotedesk/internal/quotation"
	"github.com/karoseri/quotedesk/internal/rbac"
	"github.com/karoseri/quotedesk/internal/rfq"
	"github.com/karoseri/quotedesk/internal/shared"
	"github.com/karoseri/quotedesk/internal/users"
	"github.com/karoseri/quotedesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	sessions := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL)
	rbacService := rbac.NewService(dbpool, cfg.PermissionTTL)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}
	filter := access.NewFilter(rbacService)

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	notifier := notify.NewQueue(jobClient, jobs.QueueDefault)
	directory := users.NewDirectory(dbpool)

	numbers := numbering.NewGenerator(numbering.NewPgStore(dbpool), numbering.Config{
		OrgCode:     cfg.OrgCode,
		MaxAttempts: cfg.SequenceMaxAttempts,
		Backoff:     cfg.SequenceBackoff,
	}, metrics, logger)

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
	} else {
		logger.Warn("ATTACHMENT_BUCKET not set, orphaned images stay in storage")
	}
	cleaner := jobs.NewDeferredCleaner(
		attachments.NewCleaner(attachments.NewPgReferences(dbpool), objects, logger),
		jobClient, logger)

	rfqService := rfq.NewService(rfq.NewRepository(dbpool), numbers, filter, notifier, approvalRecorder, auditLogger, logger)
	quotationService := quotation.NewService(quotation.NewRepository(dbpool), numbers, filter, directory, cleaner,
		approvalRecorder, auditLogger, quotation.Options{
			OfferAttempts: cfg.SequenceMaxAttempts,
			OfferBackoff:  cfg.SequenceBackoff,
		}, logger)
	bridge := conversion.NewBridge(rfqService, quotationService, idempotencyStore, notifier, approvalRecorder, auditLogger, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Sessions:          sessions,
		RBACMiddleware:    rbacMiddleware,
		RFQHandler:        rfq.NewHandler(logger, rfqService, rbacMiddleware),
		QuotationHandler:  quotation.NewHandler(logger, quotationService, rbacMiddleware),
		ConversionHandler: conversion.NewHandler(logger, bridge, rbacMiddleware),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
