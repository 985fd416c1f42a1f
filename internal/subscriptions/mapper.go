package subscriptions

import (
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/qreahq/qrea-backend/pkg/enums"
	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
)

// StatusFromStripe maps the provider status onto the canonical enum.
func StatusFromStripe(status stripe.SubscriptionStatus) (enums.SubscriptionStatus, error) {
	mapped, err := enums.ParseSubscriptionStatus(strings.TrimSpace(string(status)))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invalid stripe subscription status")
	}
	return mapped, nil
}

// PlanFor derives the product tier from billing state. Only a live
// subscription that is not winding down grants the paid tier.
func PlanFor(status enums.SubscriptionStatus, cancelAtPeriodEnd bool) enums.Plan {
	if status == enums.SubscriptionStatusActive && !cancelAtPeriodEnd {
		return enums.PlanPro
	}
	return enums.PlanFree
}

// PeriodEndFromStripe pulls the current period end off the subscription.
// Newer API versions carry the period on the subscription items.
func PeriodEndFromStripe(sub *stripe.Subscription) *time.Time {
	if sub == nil {
		return nil
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		if item := sub.Items.Data[0]; item != nil && item.CurrentPeriodEnd > 0 {
			return toTimePtr(item.CurrentPeriodEnd)
		}
	}
	return nil
}

// FieldsFromStripe builds the column updates a subscription lifecycle event
// applies to the owning row.
func FieldsFromStripe(sub *stripe.Subscription) (map[string]any, error) {
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	status, err := StatusFromStripe(sub.Status)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"stripe_subscription_id": sub.ID,
		"status":                 status,
		"plan":                   PlanFor(status, sub.CancelAtPeriodEnd),
		"cancel_at_period_end":   sub.CancelAtPeriodEnd,
	}
	if end := PeriodEndFromStripe(sub); end != nil {
		fields["current_period_end"] = *end
	}
	if sub.CanceledAt > 0 {
		fields["canceled_at"] = *toTimePtr(sub.CanceledAt)
	}
	if price := priceIDFromStripe(sub); price != "" {
		fields["price_id"] = price
	}
	return fields, nil
}

func priceIDFromStripe(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
