package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qreahq/qrea-backend/api/controllers"
	webhookcontrollers "github.com/qreahq/qrea-backend/api/controllers/webhooks"
	"github.com/qreahq/qrea-backend/api/middleware"
	stripewebhook "github.com/qreahq/qrea-backend/internal/webhooks/stripe"
	"github.com/qreahq/qrea-backend/pkg/config"
	"github.com/qreahq/qrea-backend/pkg/db"
	"github.com/qreahq/qrea-backend/pkg/logger"
	"github.com/qreahq/qrea-backend/pkg/metrics"
	"github.com/qreahq/qrea-backend/pkg/redis"
	"github.com/qreahq/qrea-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	stripeClient *stripe.Client,
	stripeIntake *stripewebhook.Intake,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
	webhookMetrics *metrics.WebhookMetrics,
	paymentsService controllers.PaymentsService,
	subscriptionsService controllers.SubscriptionsService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeIntake, stripeClient, stripeWebhookGuard, webhookMetrics, logg))
	})

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Post("/create-checkout-session", controllers.PaymentsCreateCheckoutSession(paymentsService, logg))
		r.Get("/verify-session/{sessionID}", controllers.PaymentsVerifySession(paymentsService, logg))
		r.Get("/payment-intent/{paymentIntentID}", controllers.PaymentsGetPaymentIntent(paymentsService, logg))
		r.Get("/billing-history/{customerID}", controllers.PaymentsBillingHistory(paymentsService, logg))
		r.Get("/upcoming-invoice/{customerID}", controllers.PaymentsUpcomingInvoice(paymentsService, logg))
		r.Post("/invoices/{invoiceID}/pay", controllers.PaymentsSettleInvoice(paymentsService, logg))
	})

	r.Route("/api/v1/subscriptions", func(r chi.Router) {
		r.Get("/prices", controllers.SubscriptionsListPrices(subscriptionsService, logg))
		r.Get("/{subscriptionID}", controllers.SubscriptionsGet(subscriptionsService, logg))
		r.Delete("/{subscriptionID}", controllers.SubscriptionsCancel(subscriptionsService, logg))
		r.Post("/{subscriptionID}/reactivate", controllers.SubscriptionsReactivate(subscriptionsService, logg))
	})

	return r
}
