package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/mealrun-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/mealrun-backend/api/controllers/webhooks"
	"github.com/angelmondragon/mealrun-backend/api/middleware"
	"github.com/angelmondragon/mealrun-backend/internal/disputes"
	"github.com/angelmondragon/mealrun-backend/internal/evidence"
	"github.com/angelmondragon/mealrun-backend/internal/fulfillments"
	"github.com/angelmondragon/mealrun-backend/internal/payments"
	"github.com/angelmondragon/mealrun-backend/internal/payouts"
	"github.com/angelmondragon/mealrun-backend/internal/requests"
	stripewebhook "github.com/angelmondragon/mealrun-backend/internal/webhooks/stripe"
	pkgAuth "github.com/angelmondragon/mealrun-backend/pkg/auth"
	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/db"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/redis"
	"github.com/angelmondragon/mealrun-backend/pkg/stripe"
)

// Services bundles what the HTTP surface dispatches to.
type Services struct {
	Users         middleware.Provisioner
	Requests      requests.Service
	Payments      payments.Service
	Fulfillments  fulfillments.Service
	Disputes      disputes.Service
	Payouts       payouts.Service
	Evidence      *evidence.Service
	StripeClient  *stripe.Client
	StripeWebhook *stripewebhook.Service
	StripeGuard   *stripewebhook.EventGuard
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	metricsHandler http.Handler,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	// typed nils must not reach the middleware interfaces
	var (
		redisPinger controllers.Pinger
		idemStore   redis.IdempotencyStore
		limiter     *redis.Client
	)
	if redisClient != nil {
		redisPinger = redisClient
		idemStore = redisClient
		limiter = redisClient
	}
	rateLimit := func(name string, limit int) func(http.Handler) http.Handler {
		policy := middleware.NewRateLimitPolicy(name, cfg.RateLimit.Window, limit)
		if limiter == nil {
			return middleware.RateLimit(policy, nil, logg)
		}
		return middleware.RateLimit(policy, limiter, logg)
	}

	isAdmin := pkgAuth.EmailAllowList(cfg.Admin.Emails)
	authenticate := middleware.Auth(cfg.JWT, svc.Users, isAdmin, logg)
	onboarding := controllers.OnboardingDefaults{
		ReturnURL:  joinURL(cfg.App.PublicBaseURL, cfg.Stripe.OnboardingReturn),
		RefreshURL: joinURL(cfg.App.PublicBaseURL, cfg.Stripe.OnboardingRefresh),
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisPinger))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", stripeWebhookHandler(svc, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Get("/me", controllers.Me(logg))
		r.Get("/dining-locations", controllers.DiningLocations())

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", controllers.CreateMealRequest(svc.Requests, logg))
			r.Get("/", controllers.ListMyMealRequests(svc.Requests, logg))
			r.Get("/available", controllers.ListAvailableMealRequests(svc.Requests, logg))
			r.Route("/{requestId}", func(r chi.Router) {
				r.Get("/", controllers.GetMealRequest(svc.Requests, logg))
				r.With(rateLimit("reserve", cfg.RateLimit.ReserveLimit)).Post("/reserve", controllers.ReserveMealRequest(svc.Requests, logg))
				r.Delete("/reserve", controllers.ReleaseMealRequest(svc.Requests, logg))
				r.Post("/claim", controllers.ClaimMealRequest(svc.Fulfillments, logg))
				r.Post("/payment/authorize", controllers.AuthorizePayment(svc.Payments, logg))
				r.Post("/payment/capture", controllers.CapturePayment(svc.Payments, logg))
				r.Post("/payment/sync", controllers.SyncPayment(svc.Payments, logg))
				r.Post("/cancel", controllers.CancelMealRequest(svc.Payments, logg))
				r.Post("/disputes", controllers.OpenDispute(svc.Disputes, logg))
			})
		})

		r.Route("/fulfillments", func(r chi.Router) {
			r.Get("/", controllers.ListMyFulfillments(svc.Fulfillments, logg))
			r.Post("/{fulfillmentId}/confirm", controllers.ConfirmReceipt(svc.Fulfillments, logg))
		})

		r.Get("/disputes/{disputeId}", controllers.GetDispute(svc.Disputes, logg))

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/balance", controllers.PayoutBalance(svc.Payouts, logg))
			r.With(rateLimit("transfer", cfg.RateLimit.TransferLimit)).Post("/transfer", controllers.PayoutTransfer(svc.Payouts, logg))
			r.Post("/onboarding", controllers.PayoutOnboarding(svc.Payouts, onboarding, logg))
		})

		r.Route("/uploads", func(r chi.Router) {
			r.With(rateLimit("upload", cfg.RateLimit.UploadLimit)).Post("/", uploadHandler(svc.Evidence, true, logg))
			r.Get("/{uploadId}", uploadHandler(svc.Evidence, false, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireAdmin(logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Get("/orders", controllers.AdminListOrders(svc.Requests, logg))
		r.Route("/disputes", func(r chi.Router) {
			r.Get("/", controllers.AdminListDisputes(svc.Disputes, logg))
			r.Post("/{disputeId}/approve", controllers.AdminApproveDispute(svc.Disputes, logg))
			r.Post("/{disputeId}/deny", controllers.AdminDenyDispute(svc.Disputes, logg))
		})
	})

	return r
}

func stripeWebhookHandler(svc Services, logg *logger.Logger) http.HandlerFunc {
	if svc.StripeWebhook == nil || svc.StripeClient == nil || svc.StripeGuard == nil {
		return webhookcontrollers.StripeWebhook(nil, nil, nil, logg)
	}
	return webhookcontrollers.StripeWebhook(svc.StripeWebhook, svc.StripeClient, svc.StripeGuard, logg)
}

func uploadHandler(svc *evidence.Service, create bool, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		if create {
			return controllers.CreateUpload(nil, logg)
		}
		return controllers.GetUpload(nil, logg)
	}
	if create {
		return controllers.CreateUpload(svc, logg)
	}
	return controllers.GetUpload(svc, logg)
}

func joinURL(base, path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
