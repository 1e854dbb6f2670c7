package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/installconnect/escrow-backend/api/routes"
	"github.com/installconnect/escrow-backend/internal/bids"
	"github.com/installconnect/escrow-backend/internal/cron"
	"github.com/installconnect/escrow-backend/internal/disputes"
	"github.com/installconnect/escrow-backend/internal/escrow"
	"github.com/installconnect/escrow-backend/internal/jobs"
	"github.com/installconnect/escrow-backend/internal/notifications"
	"github.com/installconnect/escrow-backend/internal/webhooks"
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

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	jobsRepo := jobs.NewRepository(dbClient.DB())
	bidsRepo := bids.NewRepository(dbClient.DB())
	escrowRepo := escrow.NewRepository(dbClient.DB())
	disputesRepo := disputes.NewRepository(dbClient.DB())

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

	disputesSvc, err := disputes.NewService(
		disputesRepo,
		jobsRepo,
		escrowRepo,
		dbClient,
		gatewayClient,
		outboxSvc,
		settlementMetrics,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create disputes service", err)
		os.Exit(1)
	}

	replayGuard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookReplayTTL, webhooks.GuardScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook replay guard", err)
		os.Exit(1)
	}

	webhooksSvc, err := webhooks.NewService(webhooks.ServiceParams{
		Logger:  logg,
		Escrow:  escrowSvc,
		Guard:   replayGuard,
		Secret:  cfg.Gateway.WebhookSecret,
		Metrics: webhookMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhooks service", err)
		os.Exit(1)
	}

	cronRegistry, err := buildCronRegistry(cfg, logg, dbClient, jobsRepo, jobsSvc, bidsSvc, escrowSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron registry", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:   cfg,
			Logger:   logg,
			DB:       dbClient,
			Redis:    redisClient,
			Jobs:     jobsSvc,
			Bids:     bidsSvc,
			Escrow:   escrowSvc,
			Disputes: disputesSvc,
			Webhooks: webhooksSvc,
			CronJobs: cronRegistry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// buildCronRegistry assembles the sweeps exposed through the manual trigger
// endpoint. The cron-worker binary runs the same jobs on a schedule.
func buildCronRegistry(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	jobsRepo jobs.Repository,
	jobsSvc jobs.Service,
	bidsSvc bids.Service,
	escrowSvc escrow.Service,
) (*cron.Registry, error) {
	autoSettle, err := cron.NewAutoSettleJob(cron.AutoSettleJobParams{
		Logger:    logg,
		Escrow:    escrowSvc,
		GraceDays: cfg.Escrow.AutoSettleGraceDays,
	})
	if err != nil {
		return nil, err
	}
	offerExpiry, err := cron.NewOfferExpiryJob(cron.OfferExpiryJobParams{
		Logger: logg,
		Bids:   bidsSvc,
	})
	if err != nil {
		return nil, err
	}
	fundingDeadline, err := cron.NewFundingDeadlineJob(cron.FundingDeadlineJobParams{
		Logger: logg,
		Reader: jobsRepo,
		Jobs:   jobsSvc,
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(autoSettle, offerExpiry, fundingDeadline, outboxRetention), nil
}
