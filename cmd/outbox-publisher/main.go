package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/mealrun-backend/pkg/bootstrap"
	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/db"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/metrics"
	"github.com/angelmondragon/mealrun-backend/pkg/migrate"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/registry"
	"github.com/angelmondragon/mealrun-backend/pkg/pubsub"
)

func main() {
	proc := bootstrap.MustStart("outbox-publisher")
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
		return err
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer bootstrap.Close(logg, "pubsub", pubsubClient)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}

	conn := dbClient.DB()
	service, err := NewService(ServiceParams{
		Config:        cfg.Outbox,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(conn),
		DLQRepository: outbox.NewDLQRepository(conn),
		Registry:      eventRegistry,
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	logg.Info(logg.WithField(ctx, "topics", eventRegistry.Topics()), "starting outbox publisher")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	g.Go(func() error {
		return bootstrap.ServeMetrics(gctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg)
	})
	return g.Wait()
}
