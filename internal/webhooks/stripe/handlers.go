package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/qreahq/qrea-backend/internal/events"
	"github.com/qreahq/qrea-backend/internal/jobs"
	"github.com/qreahq/qrea-backend/internal/mailer"
	"github.com/qreahq/qrea-backend/internal/subscriptions"
	"github.com/qreahq/qrea-backend/pkg/db/models"
	"github.com/qreahq/qrea-backend/pkg/enums"
	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
)

// invoicePayload is the slice of an invoice object the handlers read.
type invoicePayload struct {
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	AttemptCount int64  `json:"attempt_count"`
}

// handleCheckoutCompleted activates the subscription a finished checkout
// paid for. The webhook payload is thin, so the full session is fetched
// back from the provider with the customer and subscription expanded.
func (p *Processor) handleCheckoutCompleted(ctx context.Context, job *jobs.Job) error {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing from payload")
	}

	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("line_items")
	params.AddExpand("customer")
	params.AddExpand("subscription")
	sess, err := p.stripe.GetCheckoutSession(ctx, payload.ID, params)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve checkout session")
	}

	if sess.Mode != stripe.CheckoutSessionModeSubscription || sess.Subscription == nil || sess.Customer == nil {
		p.logg.Info(ctx, "checkout session is not a subscription purchase, acknowledging")
		return nil
	}

	customerID := sess.Customer.ID
	now := time.Now().UTC()
	fields := map[string]any{
		"stripe_subscription_id": sess.Subscription.ID,
		"plan":                   enums.PlanPro,
		"status":                 enums.SubscriptionStatusActive,
		"last_payment_date":      now,
	}
	rows, err := p.subs.UpdateByStripeCustomerID(ctx, customerID, fields)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "activate subscription")
	}
	ctx = p.logg.WithCustomerID(ctx, customerID)
	if rows == 0 {
		p.logg.Warn(ctx, "no subscription row for checkout customer, acknowledging")
		return nil
	}
	p.logg.Info(ctx, "subscription activated")

	to, name := p.recipientForCustomer(ctx, customerID)
	if to == "" && sess.CustomerDetails != nil {
		to = sess.CustomerDetails.Email
		name = to
	}
	if to != "" {
		details := mailer.PaymentDetails{
			AmountCents: sess.AmountTotal,
			Currency:    string(sess.Currency),
		}
		if err := p.mail.SendPaymentSuccess(ctx, to, name, details); err != nil {
			p.logg.Error(ctx, "send payment confirmation email", err)
		}
	}
	return nil
}

// handleRecurringPayment records a successful renewal charge. A missing
// row is acknowledged without retrying: the deferred link drain will have
// caught the subscription up by the next invoice.
func (p *Processor) handleRecurringPayment(ctx context.Context, job *jobs.Job) error {
	identity := events.ExtractIdentity(job.Type, job.Payload)
	sub := p.findSubscription(ctx, identity)
	if sub == nil {
		p.logg.Warn(ctx, "no subscription row for paid invoice, acknowledging")
		return nil
	}

	now := time.Now().UTC()
	sub.LastPaymentDate = &now
	sub.Status = enums.SubscriptionStatusActive
	if err := p.subs.Update(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record recurring payment")
	}
	p.logg.Info(ctx, "recurring payment recorded")

	var payload invoicePayload
	if err := json.Unmarshal(job.Payload, &payload); err == nil && payload.AmountPaid > 0 {
		if to, name := p.recipientForProfile(ctx, sub.ProfileID); to != "" {
			details := mailer.PaymentDetails{
				AmountCents: payload.AmountPaid,
				Currency:    payload.Currency,
			}
			if err := p.mail.SendPaymentSuccess(ctx, to, name, details); err != nil {
				p.logg.Error(ctx, "send payment confirmation email", err)
			}
		}
	}
	return nil
}

// handleFailedPayment suspends the account and warns the customer. After
// the provider's final retry there is nothing left to do locally, the
// cancellation arrives as its own event.
func (p *Processor) handleFailedPayment(ctx context.Context, job *jobs.Job) error {
	identity := events.ExtractIdentity(job.Type, job.Payload)
	if identity.CustomerID == "" {
		p.logg.Warn(ctx, "failed invoice carries no customer reference, acknowledging")
		return nil
	}
	ctx = p.logg.WithCustomerID(ctx, identity.CustomerID)

	if err := p.suspend(ctx, identity.CustomerID, enums.SuspensionReasonPaymentFailed); err != nil {
		return err
	}

	var payload invoicePayload
	if err := json.Unmarshal(job.Payload, &payload); err == nil {
		p.sendPaymentFailedEmail(ctx, identity.CustomerID, payload)
		if payload.AttemptCount >= finalPaymentAttempt {
			p.logg.Warn(ctx, "final payment attempt failed, provider will cancel the subscription")
		}
	}
	return nil
}

// handleDraftInvoice suspends the account while an invoice sits unpaid in
// draft state.
func (p *Processor) handleDraftInvoice(ctx context.Context, job *jobs.Job) error {
	identity := events.ExtractIdentity(job.Type, job.Payload)
	if identity.CustomerID == "" {
		p.logg.Warn(ctx, "draft invoice carries no customer reference, acknowledging")
		return nil
	}
	return p.suspend(ctx, identity.CustomerID, enums.SuspensionReasonDraftPayment)
}

// handleInvoiceStatusChange follows an invoice through its lifecycle:
// back to draft suspends, settled reactivates. Other statuses are noise.
func (p *Processor) handleInvoiceStatusChange(ctx context.Context, job *jobs.Job) error {
	identity := events.ExtractIdentity(job.Type, job.Payload)
	if identity.CustomerID == "" {
		p.logg.Warn(ctx, "updated invoice carries no customer reference, acknowledging")
		return nil
	}

	var payload invoicePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice payload")
	}
	switch payload.Status {
	case "draft":
		return p.suspend(ctx, identity.CustomerID, enums.SuspensionReasonDraftPayment)
	case "paid":
		return p.reactivate(ctx, identity.CustomerID)
	default:
		return nil
	}
}

// handleSubscriptionCreated seeds the local row with the provider-side
// subscription the customer just started.
func (p *Processor) handleSubscriptionCreated(ctx context.Context, job *jobs.Job) error {
	identity := events.ExtractIdentity(job.Type, job.Payload)
	if identity.CustomerID == "" {
		p.logg.Warn(ctx, "created subscription carries no customer reference, acknowledging")
		return nil
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(job.Payload, &sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription payload")
	}
	fields, err := subscriptions.FieldsFromStripe(&sub)
	if err != nil {
		return err
	}
	rows, err := p.subs.UpdateByStripeCustomerID(ctx, identity.CustomerID, fields)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store created subscription")
	}
	if rows == 0 {
		p.logg.Warn(ctx, "no subscription row for created subscription, acknowledging")
		return nil
	}
	p.logg.Info(ctx, "subscription created")
	return nil
}

// handleSubscriptionUpdated syncs plan, status and period changes onto the
// row that already tracks this subscription.
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, job *jobs.Job) error {
	identity := events.ExtractIdentity(job.Type, job.Payload)
	if identity.SubscriptionID == "" {
		p.logg.Warn(ctx, "updated subscription carries no id, acknowledging")
		return nil
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(job.Payload, &sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription payload")
	}
	fields, err := subscriptions.FieldsFromStripe(&sub)
	if err != nil {
		return err
	}
	rows, err := p.subs.UpdateByStripeSubscriptionID(ctx, identity.SubscriptionID, fields)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sync updated subscription")
	}
	if rows == 0 {
		p.logg.Warn(ctx, "no subscription row for updated subscription, acknowledging")
		return nil
	}
	p.logg.Info(ctx, "subscription synced")
	return nil
}

// handleSubscriptionDeleted drops the customer back to the free tier and
// lets them know the subscription ended.
func (p *Processor) handleSubscriptionDeleted(ctx context.Context, job *jobs.Job) error {
	identity := events.ExtractIdentity(job.Type, job.Payload)
	if identity.CustomerID == "" {
		p.logg.Warn(ctx, "deleted subscription carries no customer reference, acknowledging")
		return nil
	}
	ctx = p.logg.WithCustomerID(ctx, identity.CustomerID)

	sub, err := p.subs.FindByStripeCustomerID(ctx, identity.CustomerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find subscription")
	}
	if sub == nil {
		p.logg.Warn(ctx, "no subscription row for canceled subscription, acknowledging")
		return nil
	}

	var payload struct {
		CanceledAt int64 `json:"canceled_at"`
		EndedAt    int64 `json:"ended_at"`
	}
	_ = json.Unmarshal(job.Payload, &payload)
	canceledAt := time.Now().UTC()
	if payload.CanceledAt > 0 {
		canceledAt = time.Unix(payload.CanceledAt, 0).UTC()
	} else if payload.EndedAt > 0 {
		canceledAt = time.Unix(payload.EndedAt, 0).UTC()
	}

	fields := map[string]any{
		"plan":                   enums.PlanFree,
		"status":                 enums.SubscriptionStatusCanceled,
		"stripe_subscription_id": nil,
		"canceled_at":            canceledAt,
	}
	if _, err := p.subs.UpdateByStripeCustomerID(ctx, identity.CustomerID, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel subscription")
	}
	p.logg.Info(ctx, "subscription canceled")

	if to, name := p.recipientForProfile(ctx, sub.ProfileID); to != "" {
		if err := p.mail.SendSubscriptionEnded(ctx, to, name); err != nil {
			p.logg.Error(ctx, "send subscription ended email", err)
		}
	}
	return nil
}

// findSubscription resolves the owning row, subscription id first, then
// customer id. Lookup errors are soft here, handlers decide what a miss
// means for their event.
func (p *Processor) findSubscription(ctx context.Context, identity events.Identity) *models.Subscription {
	if identity.SubscriptionID != "" {
		sub, err := p.subs.FindByStripeSubscriptionID(ctx, identity.SubscriptionID)
		if err != nil {
			p.logg.Error(ctx, "subscription lookup by stripe id failed", err)
		} else if sub != nil {
			return sub
		}
	}
	if identity.CustomerID != "" {
		sub, err := p.subs.FindByStripeCustomerID(ctx, identity.CustomerID)
		if err != nil {
			p.logg.Error(ctx, "subscription lookup by customer id failed", err)
		} else if sub != nil {
			return sub
		}
	}
	return nil
}
