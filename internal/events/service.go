package events

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	"github.com/qreahq/qrea-backend/pkg/db/models"
	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
	"github.com/qreahq/qrea-backend/pkg/logger"
)

type subscriptionFinder interface {
	FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	FindByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*models.Subscription, error)
}

type ServiceParams struct {
	EventRepo        Repository
	SubscriptionRepo subscriptionFinder
	Logger           *logger.Logger
}

// Service records webhook deliveries and resolves which subscription they
// belong to.
type Service struct {
	events Repository
	subs   subscriptionFinder
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.EventRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event repo required")
	}
	if params.SubscriptionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		events: params.EventRepo,
		subs:   params.SubscriptionRepo,
		logg:   params.Logger,
	}, nil
}

// RecordResult reports what intake did with a delivery.
type RecordResult struct {
	Event    *models.StripeEvent
	Identity Identity
	Linked   *models.Subscription
	// Deferred marks events that referenced a customer we do not know
	// yet. The caller schedules a linkage retry for those.
	Deferred bool
}

// RecordEvent durably stores the delivery and links it to a subscription
// when one can be resolved. Resolution tries the subscription id first and
// falls back to the customer id. A lookup miss is not an error: the event
// is stored unlinked and flagged for deferred linking instead.
func (s *Service) RecordEvent(ctx context.Context, event *stripe.Event) (*RecordResult, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	identity := ExtractIdentity(string(event.Type), event.Data.Raw)
	linked := s.resolveSubscription(ctx, identity)

	stored, err := s.events.Upsert(ctx, &models.StripeEvent{
		EventID: event.ID,
		Type:    string(event.Type),
		Payload: event.Data.Raw,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist stripe event")
	}

	if linked != nil && stored.SubscriptionID == nil {
		if err := s.events.SetSubscriptionRef(ctx, event.ID, linked.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "link stripe event")
		}
		id := linked.ID
		stored.SubscriptionID = &id
	}

	result := &RecordResult{
		Event:    stored,
		Identity: identity,
		Linked:   linked,
		Deferred: linked == nil && identity.CustomerID != "",
	}
	if result.Deferred {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"event_id":    event.ID,
			"customer_id": identity.CustomerID,
		})
		s.logg.Info(ctx, "no subscription for customer yet, deferring link")
	}
	return result, nil
}

// resolveSubscription looks the owning row up by subscription id, then by
// customer id. Lookup failures are soft: the event still lands and the
// deferred path picks the link up later.
func (s *Service) resolveSubscription(ctx context.Context, identity Identity) *models.Subscription {
	if identity.SubscriptionID != "" {
		sub, err := s.subs.FindByStripeSubscriptionID(ctx, identity.SubscriptionID)
		if err != nil {
			s.logg.Error(ctx, "subscription lookup by stripe id failed", err)
		} else if sub != nil {
			return sub
		}
	}
	if identity.CustomerID != "" {
		sub, err := s.subs.FindByStripeCustomerID(ctx, identity.CustomerID)
		if err != nil {
			s.logg.Error(ctx, "subscription lookup by customer id failed", err)
		} else if sub != nil {
			return sub
		}
	}
	return nil
}
