package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/qreahq/qrea-backend/internal/payments"
	stripewebhook "github.com/qreahq/qrea-backend/internal/webhooks/stripe"
	"github.com/qreahq/qrea-backend/pkg/config"
	"github.com/qreahq/qrea-backend/pkg/logger"
	pkgstripe "github.com/qreahq/qrea-backend/pkg/stripe"
	"github.com/qreahq/qrea-backend/pkg/types"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type noopStore struct{}

func (noopStore) IdempotencyKey(scope, id string) string { return "qrea:idempotency:" + scope + ":" + id }
func (noopStore) SetNX(context.Context, string, any, time.Duration) (bool, error) {
	return true, nil
}
func (noopStore) Del(context.Context, ...string) error { return nil }

type stubPaymentsService struct{}

func (stubPaymentsService) CreateCheckoutSession(context.Context, payments.CheckoutInput) (*payments.CheckoutSession, error) {
	return &payments.CheckoutSession{SessionID: "cs_1", URL: "https://checkout.stripe.com/cs_1"}, nil
}
func (stubPaymentsService) VerifySession(context.Context, string) (*payments.SessionStatus, error) {
	return &payments.SessionStatus{Status: "paid"}, nil
}
func (stubPaymentsService) GetPaymentIntent(context.Context, string) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: "pi_1"}, nil
}
func (stubPaymentsService) BillingHistory(context.Context, string) ([]payments.BillingEntry, error) {
	return []payments.BillingEntry{}, nil
}
func (stubPaymentsService) PreviewUpcomingInvoice(context.Context, string, string) (*payments.UpcomingInvoice, error) {
	return &payments.UpcomingInvoice{Currency: "EUR"}, nil
}
func (stubPaymentsService) SettleInvoice(context.Context, string) (*stripe.Invoice, error) {
	return &stripe.Invoice{ID: "in_1", Status: stripe.InvoiceStatusPaid}, nil
}

type stubSubscriptionsService struct{}

func (stubSubscriptionsService) ListPrices(context.Context) ([]*stripe.Price, error) {
	return []*stripe.Price{{ID: "price_1"}}, nil
}
func (stubSubscriptionsService) GetSubscription(context.Context, string) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: "sub_1"}, nil
}
func (stubSubscriptionsService) ScheduleCancellation(context.Context, string) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: "sub_1", CancelAtPeriodEnd: true}, nil
}
func (stubSubscriptionsService) Reactivate(context.Context, string) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: "sub_1"}, nil
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.CORS.FrontendOrigin = "http://localhost:5173"

	stripeClient, err := pkgstripe.NewClient(context.Background(), config.StripeConfig{
		APIKey:        "sk_test_123",
		WebhookSecret: "whsec_test",
		Env:           "test",
	}, logg)
	if err != nil {
		t.Fatalf("stripe client: %v", err)
	}

	guard, err := stripewebhook.NewIdempotencyGuard(noopStore{}, time.Minute, "stripe-webhook")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}

	return NewRouter(
		cfg,
		logg,
		stubPinger{},
		stubPinger{},
		stripeClient,
		nil,
		guard,
		nil,
		stubPaymentsService{},
		stubSubscriptionsService{},
	)
}

func TestRouterHealthEndpoints(t *testing.T) {
	router := testRouter(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d (%s)", path, rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("X-Qrea-Env"); got != "test" {
			t.Fatalf("%s: expected env header, got %q", path, got)
		}
	}
}

func TestRouterSubscriptionRoutes(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/prices", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/sub_1/reactivate", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/subscriptions/sub_1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRouterPaymentRoutes(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/billing-history/cus_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var body types.SuccessEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/payments/upcoming-invoice/cus_1?subscription=sub_1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/invoices/in_1/pay", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRouterServesMetrics(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouterWebhookRouteRejectsUnsigned(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsigned webhook, got %d", rec.Code)
	}
}
