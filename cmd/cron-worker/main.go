package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/installconnect/escrow-backend/internal/bids"
	"github.com/installconnect/escrow-backend/internal/cron"
	"github.com/installconnect/escrow-backend/internal/escrow"
	"github.com/installconnect/escrow-backend/internal/jobs"
	"github.com/installconnect/escrow-backend/internal/notifications"
	"github.com/installconnect/escrow-backend/pkg/config"
	"github.com/installconnect/escrow-backend/pkg/db"
	"github.com/installconnect/escrow-backend/pkg/gateway"
	"github.com/installconnect/escrow-backend/pkg/logger"
	"github.com/installconnect/escrow-backend/pkg/metrics"
	"github.com/installconnect/escrow-backend/pkg/migrate"
	"github.com/installconnect/escrow-backend/pkg/outbox"
	"github.com/installconnect/escrow-backend/pkg/pubsub"
	"github.com/installconnect/escrow-backend/pkg/redis"
)

const lockKeyFormat = "escrow:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayClient, err := gateway.NewClient(context.Background(), cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap payment gateway client", err)
		os.Exit(1)
	}

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	notifier, err := notifications.NewNotifier(pubsubClient.JobEventsPublisher(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifier", err)
		os.Exit(1)
	}

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outboxRepo, logg)

	jobsRepo := jobs.NewRepository(dbClient.DB())
	bidsRepo := bids.NewRepository(dbClient.DB())
	escrowRepo := escrow.NewRepository(dbClient.DB())

	escrowSvc, err := escrow.NewService(
		escrowRepo,
		jobsRepo,
		dbClient,
		gatewayClient,
		outboxSvc,
		redisClient,
		notifier,
		settlementMetrics,
		logg,
		cfg.Escrow,
		cfg.OTPRateLimit,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	jobsSvc, err := jobs.NewService(
		jobsRepo,
		dbClient,
		outboxSvc,
		redisClient,
		escrowSvc,
		notifier,
		cfg.Escrow,
		cfg.OTPRateLimit,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create jobs service", err)
		os.Exit(1)
	}

	bidsSvc, err := bids.NewService(
		bidsRepo,
		jobsRepo,
		dbClient,
		outboxSvc,
		cfg.Escrow,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create bids service", err)
		os.Exit(1)
	}

	autoSettle, err := cron.NewAutoSettleJob(cron.AutoSettleJobParams{
		Logger:    logg,
		Escrow:    escrowSvc,
		GraceDays: cfg.Escrow.AutoSettleGraceDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auto-settle job", err)
		os.Exit(1)
	}
	offerExpiry, err := cron.NewOfferExpiryJob(cron.OfferExpiryJobParams{
		Logger: logg,
		Bids:   bidsSvc,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create offer expiry job", err)
		os.Exit(1)
	}
	fundingDeadline, err := cron.NewFundingDeadlineJob(cron.FundingDeadlineJobParams{
		Logger: logg,
		Reader: jobsRepo,
		Jobs:   jobsSvc,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create funding deadline job", err)
		os.Exit(1)
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(autoSettle, offerExpiry, fundingDeadline, outboxRetention)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.AutoSettleInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
