package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/qreahq/qrea-backend/api/routes"
	"github.com/qreahq/qrea-backend/internal/events"
	"github.com/qreahq/qrea-backend/internal/jobs"
	"github.com/qreahq/qrea-backend/internal/linkqueue"
	"github.com/qreahq/qrea-backend/internal/payments"
	"github.com/qreahq/qrea-backend/internal/subscriptions"
	stripewebhook "github.com/qreahq/qrea-backend/internal/webhooks/stripe"
	"github.com/qreahq/qrea-backend/pkg/config"
	"github.com/qreahq/qrea-backend/pkg/db"
	"github.com/qreahq/qrea-backend/pkg/env"
	"github.com/qreahq/qrea-backend/pkg/logger"
	"github.com/qreahq/qrea-backend/pkg/metrics"
	"github.com/qreahq/qrea-backend/pkg/migrate"
	"github.com/qreahq/qrea-backend/pkg/redis"
	pkgstripe "github.com/qreahq/qrea-backend/pkg/stripe"
)

const webhookIdempotencyTTL = 24 * time.Hour

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

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	eventRepo := events.NewRepository(dbClient.DB())
	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())

	eventService, err := events.NewService(events.ServiceParams{
		EventRepo:        eventRepo,
		SubscriptionRepo: subscriptionRepo,
		Logger:           logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event service", err)
		os.Exit(1)
	}

	linkQueue, err := linkqueue.New(linkqueue.Params{
		Store:            redisClient,
		EventRepo:        eventRepo,
		SubscriptionRepo: subscriptionRepo,
		Logger:           logg,
		MaxAttempts:      cfg.Links.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create link queue", err)
		os.Exit(1)
	}

	jobQueue, err := jobs.NewQueue(jobs.QueueParams{
		Name:               "stripe",
		Store:              redisClient,
		Metrics:            metrics.NewQueueMetrics(prometheus.DefaultRegisterer),
		MaxAttempts:        cfg.Queue.MaxAttempts,
		CompletedRetention: cfg.Queue.CompletedRetention,
		FailedRetention:    cfg.Queue.FailedRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create job queue", err)
		os.Exit(1)
	}

	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	intake, err := stripewebhook.NewIntake(stripewebhook.IntakeParams{
		Events:    eventService,
		Jobs:      jobQueue,
		LinkQueue: linkQueue,
		Logger:    logg,
		Metrics:   webhookMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook intake", err)
		os.Exit(1)
	}

	guard, err := stripewebhook.NewIdempotencyGuard(redisClient, webhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency guard", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Stripe: payments.NewStripeClient(stripeClient),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:         subscriptionRepo,
		StripeClient: subscriptions.NewStripeClient(stripeClient),
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	port := env.Get("PORT", cfg.App.Port)
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			stripeClient,
			intake,
			guard,
			webhookMetrics,
			paymentService,
			subscriptionService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
