package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/mealrun-backend/api/routes"
	"github.com/angelmondragon/mealrun-backend/internal/disputes"
	"github.com/angelmondragon/mealrun-backend/internal/evidence"
	"github.com/angelmondragon/mealrun-backend/internal/fulfillments"
	"github.com/angelmondragon/mealrun-backend/internal/gateway"
	"github.com/angelmondragon/mealrun-backend/internal/payments"
	"github.com/angelmondragon/mealrun-backend/internal/payouts"
	"github.com/angelmondragon/mealrun-backend/internal/reconciliation"
	"github.com/angelmondragon/mealrun-backend/internal/requests"
	"github.com/angelmondragon/mealrun-backend/internal/users"
	stripewebhook "github.com/angelmondragon/mealrun-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/mealrun-backend/pkg/bootstrap"
	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/db"
	"github.com/angelmondragon/mealrun-backend/pkg/env"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/metrics"
	"github.com/angelmondragon/mealrun-backend/pkg/migrate"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/redis"
	"github.com/angelmondragon/mealrun-backend/pkg/storage/gcs"
	"github.com/angelmondragon/mealrun-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	proc := bootstrap.MustStart("api")
	defer proc.Stop()
	proc.Exit(run(proc.Ctx, proc.Config, proc.Logger))
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer bootstrap.Close(logg, "database", dbClient)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer bootstrap.Close(logg, "redis", redisClient)

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}
	gw, err := gateway.NewStripeGateway(stripeClient, cfg.Stripe.ConnectCountry)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reporter := reconciliation.NewReporter(logg, metrics.NewReconciliationMetrics(registry))

	services, err := buildServices(cfg, logg, dbClient, gw, reporter)
	if err != nil {
		return err
	}

	webhookService, err := stripewebhook.NewService(services.Payments, logg)
	if err != nil {
		return err
	}
	guard, err := stripewebhook.NewEventGuard(redisClient, cfg.Stripe.WebhookEventTTL, stripewebhook.DefaultScope)
	if err != nil {
		return err
	}
	if cfg.GCS.Enabled() {
		gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
		if err != nil {
			return err
		}
		services.Evidence.WithBlobStore(gcsClient)
	}
	services.StripeClient = stripeClient
	services.StripeWebhook = webhookService
	services.StripeGuard = guard

	addr := ":" + env.Get("PORT", cfg.App.Port)
	logCtx := logg.WithFields(ctx, map[string]any{
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), *services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, gw gateway.Gateway, reporter *reconciliation.Reporter) (*routes.Services, error) {
	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	requestRepo := requests.NewRepository(conn)
	paymentRepo := payments.NewRepository(conn)
	fulfillmentRepo := fulfillments.NewRepository(conn)
	payoutRepo := payouts.NewRepository(conn)
	userRepo := users.NewRepository(conn)

	userService, err := users.NewService(userRepo)
	if err != nil {
		return nil, err
	}
	evidenceService, err := evidence.NewService(evidence.NewRepository(conn), cfg.Evidence.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	requestService, err := requests.NewService(requestRepo, dbClient, emitter, requests.Options{
		ReservationWindow: cfg.Pricing.ReservationWindow,
	})
	if err != nil {
		return nil, err
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Requests:    requestRepo,
		Payments:    paymentRepo,
		Tx:          dbClient,
		Outbox:      emitter,
		Gateway:     gw,
		Reconcile:   reporter,
		Logger:      logg,
		AmountCents: cfg.Pricing.MealPriceCents,
		Currency:    cfg.Pricing.Currency,
	})
	if err != nil {
		return nil, err
	}

	fulfillmentService, err := fulfillments.NewService(fulfillments.ServiceParams{
		Requests:          requestRepo,
		Fulfillments:      fulfillmentRepo,
		Payments:          paymentRepo,
		Evidence:          evidenceService,
		Capturer:          paymentService,
		Tx:                dbClient,
		Outbox:            emitter,
		Logger:            logg,
		ReservationWindow: cfg.Pricing.ReservationWindow,
		AmountCents:       cfg.Pricing.MealPriceCents,
		Currency:          cfg.Pricing.Currency,
	})
	if err != nil {
		return nil, err
	}

	payoutService, err := payouts.NewService(payouts.ServiceParams{
		Users:                userRepo,
		Payouts:              payoutRepo,
		Gateway:              gw,
		Tx:                   dbClient,
		Outbox:               emitter,
		Reconcile:            reporter,
		Logger:               logg,
		FulfillerAmountCents: cfg.Pricing.FulfillerAmountCents,
		MinTransferCents:     cfg.Pricing.MinTransferCents,
		Currency:             cfg.Pricing.Currency,
	})
	if err != nil {
		return nil, err
	}

	disputeService, err := disputes.NewService(disputes.ServiceParams{
		Requests:             requestRepo,
		Disputes:             disputes.NewRepository(conn),
		Payments:             paymentRepo,
		Fulfillments:         fulfillmentRepo,
		Payouts:              payoutRepo,
		Evidence:             evidenceService,
		Gateway:              gw,
		Tx:                   dbClient,
		Outbox:               emitter,
		Reconcile:            reporter,
		Logger:               logg,
		FulfillerAmountCents: cfg.Pricing.FulfillerAmountCents,
	})
	if err != nil {
		return nil, err
	}

	return &routes.Services{
		Users:        userService,
		Requests:     requestService,
		Payments:     paymentService,
		Fulfillments: fulfillmentService,
		Disputes:     disputeService,
		Payouts:      payoutService,
		Evidence:     evidenceService,
	}, nil
}
