package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qreahq/qrea-backend/api/responses"
	"github.com/qreahq/qrea-backend/pkg/logger"

	"github.com/stripe/stripe-go/v84"
)

type SubscriptionsService interface {
	ListPrices(ctx context.Context) ([]*stripe.Price, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	ScheduleCancellation(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	Reactivate(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
}

// SubscriptionsListPrices returns the active prices with products expanded.
func SubscriptionsListPrices(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		prices, err := svc.ListPrices(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, prices)
	}
}

// SubscriptionsGet fetches one provider subscription.
func SubscriptionsGet(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sub, err := svc.GetSubscription(ctx, chi.URLParam(r, "subscriptionID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// SubscriptionsCancel schedules cancellation at the period end.
func SubscriptionsCancel(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sub, err := svc.ScheduleCancellation(ctx, chi.URLParam(r, "subscriptionID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"message":      "subscription scheduled for cancellation",
			"subscription": sub,
		})
	}
}

// SubscriptionsReactivate clears a pending cancellation.
func SubscriptionsReactivate(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sub, err := svc.Reactivate(ctx, chi.URLParam(r, "subscriptionID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"message":      "subscription reactivated",
			"subscription": sub,
		})
	}
}
