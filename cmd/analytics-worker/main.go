package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/mealrun-backend/internal/analytics"
	"github.com/angelmondragon/mealrun-backend/internal/analytics/worker"
	"github.com/angelmondragon/mealrun-backend/internal/analytics/writer"
	stripewebhook "github.com/angelmondragon/mealrun-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/mealrun-backend/pkg/bigquery"
	"github.com/angelmondragon/mealrun-backend/pkg/bootstrap"
	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/registry"
	"github.com/angelmondragon/mealrun-backend/pkg/pubsub"
	"github.com/angelmondragon/mealrun-backend/pkg/redis"
)

const dedupeScope = "analytics-event"

func main() {
	proc := bootstrap.MustStart("analytics-worker")
	defer proc.Stop()
	proc.Exit(run(proc.Ctx, proc.Config, proc.Logger))
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer bootstrap.Close(logg, "redis", redisClient)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer bootstrap.Close(logg, "pubsub", pubsubClient)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return fmt.Errorf("bootstrap bigquery: %w", err)
	}
	defer bootstrap.Close(logg, "bigquery", bqClient)

	if err := bqClient.EnsureTable(ctx, bigquery.TableSpec{
		Name:           cfg.BigQuery.LifecycleTable,
		Schema:         analytics.LifecycleSchema,
		PartitionField: analytics.LifecyclePartitionField,
	}); err != nil {
		return fmt.Errorf("bootstrap bigquery: %w", err)
	}

	if err := pubsubClient.VerifySubscription(ctx, cfg.PubSub.AnalyticsSubscription); err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	subscriber := pubsubClient.Subscriber(cfg.PubSub.AnalyticsSubscription)
	if subscriber == nil {
		return errors.New("analytics subscription not configured")
	}

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	projector, err := analytics.NewProjector(events)
	if err != nil {
		return err
	}
	rowWriter, err := writer.New(bqClient, cfg.BigQuery.LifecycleTable, writer.RetryPolicy{})
	if err != nil {
		return err
	}
	guard, err := stripewebhook.NewEventGuard(redisClient, cfg.BigQuery.DedupeTTL, dedupeScope)
	if err != nil {
		return err
	}

	service, err := worker.NewService(worker.ServiceParams{
		Subscription: subscriber,
		Projector:    projector,
		Writer:       rowWriter,
		Guard:        guard,
		Logger:       logg,
	})
	if err != nil {
		return err
	}

	logg.Info(logg.WithField(ctx, "subscription", cfg.PubSub.AnalyticsSubscription), "analytics worker ready")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	g.Go(func() error {
		return bootstrap.ServeMetrics(gctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg)
	})
	return g.Wait()
}
