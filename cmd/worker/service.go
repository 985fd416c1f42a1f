package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qreahq/qrea-backend/internal/cron"
	"github.com/qreahq/qrea-backend/internal/events"
	"github.com/qreahq/qrea-backend/internal/jobs"
	"github.com/qreahq/qrea-backend/internal/linkqueue"
	"github.com/qreahq/qrea-backend/internal/mailer"
	"github.com/qreahq/qrea-backend/internal/profiles"
	"github.com/qreahq/qrea-backend/internal/subscriptions"
	stripewebhook "github.com/qreahq/qrea-backend/internal/webhooks/stripe"
	"github.com/qreahq/qrea-backend/pkg/config"
	"github.com/qreahq/qrea-backend/pkg/db"
	"github.com/qreahq/qrea-backend/pkg/logger"
	"github.com/qreahq/qrea-backend/pkg/metrics"
	"github.com/qreahq/qrea-backend/pkg/redis"
	pkgstripe "github.com/qreahq/qrea-backend/pkg/stripe"
)

// Service runs the webhook job worker pool and the link-drain cron loop
// side by side until the context is canceled.
type Service struct {
	logg   *logger.Logger
	worker *jobs.Worker
	cron   *cron.Service
}

func buildService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, stripeClient *pkgstripe.Client, reg prometheus.Registerer) (*Service, error) {
	eventRepo := events.NewRepository(dbClient.DB())
	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())
	profileRepo := profiles.NewRepository(dbClient.DB())

	linkQueue, err := linkqueue.New(linkqueue.Params{
		Store:            redisClient,
		EventRepo:        eventRepo,
		SubscriptionRepo: subscriptionRepo,
		Logger:           logg,
		MaxAttempts:      cfg.Links.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	queueMetrics := metrics.NewQueueMetrics(reg)

	jobQueue, err := jobs.NewQueue(jobs.QueueParams{
		Name:               "stripe",
		Store:              redisClient,
		Metrics:            queueMetrics,
		MaxAttempts:        cfg.Queue.MaxAttempts,
		CompletedRetention: cfg.Queue.CompletedRetention,
		FailedRetention:    cfg.Queue.FailedRetention,
	})
	if err != nil {
		return nil, err
	}

	sender, err := mailer.NewSendgridSender(cfg.Sendgrid)
	if err != nil {
		return nil, err
	}
	mailService, err := mailer.NewService(mailer.ServiceParams{
		Config: cfg.Sendgrid,
		Sender: sender,
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	processor, err := stripewebhook.NewProcessor(stripewebhook.ProcessorParams{
		Subscriptions: subscriptionRepo,
		Profiles:      profileRepo,
		Mailer:        mailService,
		Stripe:        stripewebhook.NewStripeClient(stripeClient),
		Logger:        logg,
	})
	if err != nil {
		return nil, err
	}

	handler := func(ctx context.Context, job *jobs.Job) error {
		if err := processor.Process(ctx, job); err != nil {
			return err
		}
		// Bookkeeping only; a failure here must not burn a retry.
		if err := eventRepo.MarkProcessed(ctx, job.EventID); err != nil {
			logg.Error(ctx, "failed to mark event processed", err)
		}
		return nil
	}

	worker, err := jobs.NewWorker(jobs.WorkerParams{
		Queue:        jobQueue,
		Handler:      handler,
		Logger:       logg,
		Metrics:      queueMetrics,
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: cfg.Queue.PollInterval,
		BackoffBase:  cfg.Queue.BackoffBase,
		AfterJob: func(ctx context.Context) {
			linkQueue.DrainOnce(ctx)
		},
		OnExhausted: func(ctx context.Context, job *jobs.Job, handlerErr error) {
			if job.EventID == "" {
				return
			}
			if err := eventRepo.MarkFailed(ctx, job.EventID, handlerErr.Error()); err != nil {
				logg.Error(ctx, "failed to mark event failed", err)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		return nil, err
	}
	drainJob, err := cron.NewLinkDrainJob(linkQueue, logg)
	if err != nil {
		return nil, err
	}
	reconcileJob, err := cron.NewEventReconcileJob(cron.EventReconcileJobParams{
		Logger: logg,
		Events: eventRepo,
		Queue:  jobQueue,
	})
	if err != nil {
		return nil, err
	}
	cronService, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(drainJob, reconcileJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Links.DrainInterval,
	})
	if err != nil {
		return nil, err
	}

	return &Service{logg: logg, worker: worker, cron: cronService}, nil
}

// Run blocks until the context is canceled or either loop dies.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		errCh <- s.worker.Run(ctx)
	}()
	go func() {
		errCh <- s.cron.Run(ctx)
	}()

	err := <-errCh
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "worker loop stopped unexpectedly", err)
	}
	return err
}
