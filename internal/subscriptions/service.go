package subscriptions

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
	"github.com/qreahq/qrea-backend/pkg/logger"
)

type ServiceParams struct {
	Repo         Repository
	StripeClient StripeSubscriptionClient
	Logger       *logger.Logger
}

// Service fronts the subscription management surface. State changes go
// through Stripe; the local row catches up when the resulting webhook
// lands.
type Service struct {
	repo   Repository
	stripe StripeSubscriptionClient
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:   params.Repo,
		stripe: params.StripeClient,
		logg:   params.Logger,
	}, nil
}

// ListPrices returns the active prices with their products expanded.
func (s *Service) ListPrices(ctx context.Context) ([]*stripe.Price, error) {
	params := &stripe.PriceListParams{
		Active: stripe.Bool(true),
	}
	params.AddExpand("data.product")
	prices, err := s.stripe.ListPrices(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stripe prices")
	}
	return prices, nil
}

// GetSubscription fetches the subscription from Stripe with its customer
// and price details expanded.
func (s *Service) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if subscriptionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	params := &stripe.SubscriptionParams{}
	params.AddExpand("customer")
	params.AddExpand("items.data.price.product")
	sub, err := s.stripe.Get(ctx, subscriptionID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	return sub, nil
}

// ScheduleCancellation flags the subscription to end at the period close.
// The customer.subscription.updated webhook syncs the local row.
func (s *Service) ScheduleCancellation(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if subscriptionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	sub, err := s.stripe.Update(ctx, subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "schedule stripe cancellation")
	}
	ctx = s.logg.WithField(ctx, "stripe_subscription_id", subscriptionID)
	s.logg.Info(ctx, "subscription scheduled for cancellation")
	return sub, nil
}

// Reactivate clears a pending cancellation.
func (s *Service) Reactivate(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if subscriptionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	sub, err := s.stripe.Update(ctx, subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reactivate stripe subscription")
	}
	ctx = s.logg.WithField(ctx, "stripe_subscription_id", subscriptionID)
	s.logg.Info(ctx, "subscription reactivated")
	return sub, nil
}
