package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/mealrun-backend/internal/cron"
	"github.com/angelmondragon/mealrun-backend/internal/gateway"
	"github.com/angelmondragon/mealrun-backend/internal/payments"
	"github.com/angelmondragon/mealrun-backend/internal/reconciliation"
	"github.com/angelmondragon/mealrun-backend/internal/requests"
	"github.com/angelmondragon/mealrun-backend/pkg/bootstrap"
	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/db"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/metrics"
	"github.com/angelmondragon/mealrun-backend/pkg/migrate"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/redis"
	"github.com/angelmondragon/mealrun-backend/pkg/stripe"
)

func main() {
	proc := bootstrap.MustStart("cron-worker")
	defer proc.Stop()
	proc.Exit(run(proc.Ctx, proc.Config, proc.Logger))
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer bootstrap.Close(logg, "database", dbClient)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer bootstrap.Close(logg, "redis", redisClient)

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return fmt.Errorf("bootstrap stripe: %w", err)
	}
	gw, err := gateway.NewStripeGateway(stripeClient, cfg.Stripe.ConnectCountry)
	if err != nil {
		return err
	}

	reporter := reconciliation.NewReporter(logg, metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer))
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	paymentService, err := payments.NewService(payments.ServiceParams{
		Requests:    requests.NewRepository(conn),
		Payments:    payments.NewRepository(conn),
		Tx:          dbClient,
		Outbox:      outbox.NewService(outboxRepo, logg),
		Gateway:     gw,
		Reconcile:   reporter,
		Logger:      logg,
		AmountCents: cfg.Pricing.MealPriceCents,
		Currency:    cfg.Pricing.Currency,
	})
	if err != nil {
		return err
	}

	paymentSync, err := cron.NewPaymentSyncJob(cron.PaymentSyncJobParams{
		Logger:   logg,
		Payments: paymentService,
		MinAge:   cfg.Cron.PaymentSyncAge,
		Batch:    cfg.Cron.PaymentSyncBatch,
	})
	if err != nil {
		return err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:         logg,
		DB:             dbClient,
		Repository:     outboxRepo,
		Retention:      cfg.Cron.OutboxRetention,
		ParkedAttempts: cfg.Outbox.MaxAttempts,
		BatchSize:      cfg.Cron.OutboxPurgeBatch,
	})
	if err != nil {
		return err
	}
	registry, err := cron.NewRegistry(paymentSync, retention)
	if err != nil {
		return err
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cron.LockTTL(cfg.Cron.Interval, 0))
	if err != nil {
		return fmt.Errorf("create cron lock: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	logg.Info(logg.WithField(ctx, "stripe_env", stripeClient.Environment()), "starting cron worker")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	g.Go(func() error {
		return bootstrap.ServeMetrics(gctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg)
	})
	return g.Wait()
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
