package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qreahq/qrea-backend/api/responses"
	"github.com/qreahq/qrea-backend/api/validators"
	"github.com/qreahq/qrea-backend/internal/payments"
	"github.com/qreahq/qrea-backend/pkg/logger"

	"github.com/stripe/stripe-go/v84"
)

type PaymentsService interface {
	CreateCheckoutSession(ctx context.Context, input payments.CheckoutInput) (*payments.CheckoutSession, error)
	VerifySession(ctx context.Context, sessionID string) (*payments.SessionStatus, error)
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*stripe.PaymentIntent, error)
	BillingHistory(ctx context.Context, customerID string) ([]payments.BillingEntry, error)
	PreviewUpcomingInvoice(ctx context.Context, customerID, subscriptionID string) (*payments.UpcomingInvoice, error)
	SettleInvoice(ctx context.Context, invoiceID string) (*stripe.Invoice, error)
}

// PaymentsCreateCheckoutSession starts a subscription checkout.
func PaymentsCreateCheckoutSession(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var input payments.CheckoutInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		session, err := svc.CreateCheckoutSession(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

// PaymentsVerifySession reports how a checkout session ended.
func PaymentsVerifySession(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		status, err := svc.VerifySession(ctx, chi.URLParam(r, "sessionID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// PaymentsGetPaymentIntent fetches one payment intent.
func PaymentsGetPaymentIntent(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		intent, err := svc.GetPaymentIntent(ctx, chi.URLParam(r, "paymentIntentID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, intent)
	}
}

// PaymentsBillingHistory lists the customer's recent invoices.
func PaymentsBillingHistory(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		history, err := svc.BillingHistory(ctx, chi.URLParam(r, "customerID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, history)
	}
}

// PaymentsUpcomingInvoice previews the customer's next charge. An
// optional subscription query parameter scopes the preview.
func PaymentsUpcomingInvoice(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		preview, err := svc.PreviewUpcomingInvoice(ctx, chi.URLParam(r, "customerID"), r.URL.Query().Get("subscription"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, preview)
	}
}

// PaymentsSettleInvoice finalizes a draft invoice if needed and collects
// payment on it.
func PaymentsSettleInvoice(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		inv, err := svc.SettleInvoice(ctx, chi.URLParam(r, "invoiceID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, inv)
	}
}
