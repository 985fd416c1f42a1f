package stripewebhook

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/qreahq/qrea-backend/internal/jobs"
	"github.com/qreahq/qrea-backend/internal/mailer"
	"github.com/qreahq/qrea-backend/pkg/db/models"
	"github.com/qreahq/qrea-backend/pkg/enums"
	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
	"github.com/qreahq/qrea-backend/pkg/logger"
)

const defaultSuspensionEmailCooldown = 5 * time.Minute

// finalPaymentAttempt is how many retries Stripe makes before it cancels
// the subscription on its own.
const finalPaymentAttempt = 3

type subscriptionStore interface {
	FindByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*models.Subscription, error)
	FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	Update(ctx context.Context, subscription *models.Subscription) error
	UpdateByStripeCustomerID(ctx context.Context, stripeCustomerID string, fields map[string]any) (int64, error)
	UpdateByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string, fields map[string]any) (int64, error)
}

type profileStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	MarkSuspensionEmailSent(ctx context.Context, id uuid.UUID, at time.Time) error
}

type notifier interface {
	SendPaymentSuccess(ctx context.Context, to, name string, details mailer.PaymentDetails) error
	SendPaymentFailed(ctx context.Context, to, name string, details mailer.PaymentDetails) error
	SendSuspension(ctx context.Context, to, name string, reason enums.SuspensionReason) error
	SendReactivation(ctx context.Context, to, name string) error
	SendSubscriptionEnded(ctx context.Context, to, name string) error
}

type ProcessorParams struct {
	Subscriptions subscriptionStore
	Profiles      profileStore
	Mailer        notifier
	Stripe        StripeEventClient
	Logger        *logger.Logger
	// EmailCooldown throttles repeat suspension emails to the same profile.
	EmailCooldown time.Duration
}

// Processor applies webhook events to subscription rows and sends the
// matching transactional emails. It is the handler the worker pool runs
// dequeued jobs through.
type Processor struct {
	subs          subscriptionStore
	profiles      profileStore
	mail          notifier
	stripe        StripeEventClient
	logg          *logger.Logger
	emailCooldown time.Duration
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription store required")
	}
	if params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "profile store required")
	}
	if params.Mailer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mailer required")
	}
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	cooldown := params.EmailCooldown
	if cooldown <= 0 {
		cooldown = defaultSuspensionEmailCooldown
	}
	return &Processor{
		subs:          params.Subscriptions,
		profiles:      params.Profiles,
		mail:          params.Mailer,
		stripe:        params.Stripe,
		logg:          params.Logger,
		emailCooldown: cooldown,
	}, nil
}

// Process dispatches a dequeued job to the handler for its event type.
// Unknown types are acknowledged without work so new provider events never
// clog the queue.
func (p *Processor) Process(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "job required")
	}
	ctx = p.logg.WithFields(ctx, map[string]any{
		"job_id":     job.ID,
		"event_id":   job.EventID,
		"event_type": job.Type,
	})

	switch job.Type {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, job)
	case "invoice.payment_succeeded":
		return p.handleRecurringPayment(ctx, job)
	case "invoice.payment_failed":
		return p.handleFailedPayment(ctx, job)
	case "invoice.created":
		return p.handleDraftInvoice(ctx, job)
	case "invoice.updated":
		return p.handleInvoiceStatusChange(ctx, job)
	case "customer.subscription.created":
		return p.handleSubscriptionCreated(ctx, job)
	case "customer.subscription.updated":
		return p.handleSubscriptionUpdated(ctx, job)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, job)
	default:
		p.logg.Info(ctx, "no handler for event type, acknowledging")
		return nil
	}
}
