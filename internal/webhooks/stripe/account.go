package stripewebhook

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/qreahq/qrea-backend/internal/mailer"
	"github.com/qreahq/qrea-backend/pkg/enums"
	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
)

// suspend parks the subscription until billing is settled. A missing row
// is acknowledged, the customer may not have completed signup yet. The
// suspension email is throttled per profile so a burst of invoice events
// does not spam the inbox.
func (p *Processor) suspend(ctx context.Context, customerID string, reason enums.SuspensionReason) error {
	ctx = p.logg.WithCustomerID(ctx, customerID)

	sub, err := p.subs.FindByStripeCustomerID(ctx, customerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find subscription")
	}
	if sub == nil {
		p.logg.Warn(ctx, "no subscription row for customer, skipping suspension")
		return nil
	}

	now := time.Now().UTC()
	fields := map[string]any{
		"status":            enums.SubscriptionStatusSuspended,
		"suspended_at":      now,
		"suspension_reason": reason.String(),
	}
	if _, err := p.subs.UpdateByStripeCustomerID(ctx, customerID, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "suspend subscription")
	}
	p.logg.Warn(ctx, "subscription suspended: "+reason.String())

	p.sendSuspensionEmail(ctx, sub.ProfileID, reason)
	return nil
}

// reactivate lifts a suspension after the open invoice settles.
func (p *Processor) reactivate(ctx context.Context, customerID string) error {
	ctx = p.logg.WithCustomerID(ctx, customerID)

	sub, err := p.subs.FindByStripeCustomerID(ctx, customerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find subscription")
	}
	if sub == nil {
		p.logg.Warn(ctx, "no subscription row for customer, skipping reactivation")
		return nil
	}
	if sub.Status != enums.SubscriptionStatusSuspended {
		p.logg.Info(ctx, "subscription is not suspended, nothing to reactivate")
		return nil
	}

	fields := map[string]any{
		"status":            enums.SubscriptionStatusActive,
		"suspended_at":      nil,
		"suspension_reason": nil,
	}
	if _, err := p.subs.UpdateByStripeCustomerID(ctx, customerID, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reactivate subscription")
	}
	p.logg.Info(ctx, "subscription reactivated")

	if to, name := p.recipientForProfile(ctx, sub.ProfileID); to != "" {
		if err := p.mail.SendReactivation(ctx, to, name); err != nil {
			p.logg.Error(ctx, "send reactivation email", err)
		}
	}
	return nil
}

// sendSuspensionEmail notifies the profile owner, at most once per cooldown
// window. Failures only log, suspension itself already succeeded.
func (p *Processor) sendSuspensionEmail(ctx context.Context, profileID uuid.UUID, reason enums.SuspensionReason) {
	profile, err := p.profiles.FindByID(ctx, profileID)
	if err != nil {
		p.logg.Error(ctx, "profile lookup for suspension email failed", err)
		return
	}
	if profile == nil || profile.Email == "" {
		return
	}

	now := time.Now().UTC()
	if profile.LastSuspensionEmailAt != nil && now.Sub(*profile.LastSuspensionEmailAt) < p.emailCooldown {
		p.logg.Info(ctx, "suspension email sent recently, skipping")
		return
	}

	if err := p.mail.SendSuspension(ctx, profile.Email, displayName(profile.FirstName, profile.Email), reason); err != nil {
		p.logg.Error(ctx, "send suspension email", err)
		return
	}
	if err := p.profiles.MarkSuspensionEmailSent(ctx, profile.ID, now); err != nil {
		p.logg.Error(ctx, "record suspension email timestamp", err)
	}
}

// sendPaymentFailedEmail warns the customer that a charge bounced. The
// address comes from the provider so the mail still goes out when the
// local profile is incomplete.
func (p *Processor) sendPaymentFailedEmail(ctx context.Context, customerID string, payload invoicePayload) {
	to, name := p.recipientForCustomer(ctx, customerID)
	if to == "" {
		cust, err := p.stripe.GetCustomer(ctx, customerID)
		if err != nil {
			p.logg.Error(ctx, "customer lookup for payment failed email", err)
			return
		}
		to = cust.Email
		name = to
	}
	if to == "" {
		return
	}

	details := mailer.PaymentDetails{
		AmountCents:  payload.AmountDue,
		Currency:     payload.Currency,
		AttemptCount: payload.AttemptCount,
	}
	if err := p.mail.SendPaymentFailed(ctx, to, name, details); err != nil {
		p.logg.Error(ctx, "send payment failed email", err)
	}
}

// recipientForCustomer resolves the email contact behind a provider
// customer id. Empty values mean no deliverable address was found.
func (p *Processor) recipientForCustomer(ctx context.Context, customerID string) (string, string) {
	sub, err := p.subs.FindByStripeCustomerID(ctx, customerID)
	if err != nil || sub == nil {
		return "", ""
	}
	return p.recipientForProfile(ctx, sub.ProfileID)
}

func (p *Processor) recipientForProfile(ctx context.Context, profileID uuid.UUID) (string, string) {
	profile, err := p.profiles.FindByID(ctx, profileID)
	if err != nil {
		p.logg.Error(ctx, "profile lookup failed", err)
		return "", ""
	}
	if profile == nil || profile.Email == "" {
		return "", ""
	}
	return profile.Email, displayName(profile.FirstName, profile.Email)
}

func displayName(firstName *string, fallback string) string {
	if firstName != nil && *firstName != "" {
		return *firstName
	}
	return fallback
}
