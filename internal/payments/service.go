package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
	"github.com/qreahq/qrea-backend/pkg/logger"
)

const defaultHistoryLimit = 10

type ServiceParams struct {
	Stripe StripePaymentClient
	Logger *logger.Logger
}

// Service brokers one-off payment operations against the billing provider.
// Subscription state itself is maintained by the webhook pipeline.
type Service struct {
	stripe StripePaymentClient
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{stripe: params.Stripe, logg: params.Logger}, nil
}

// CheckoutInput is what the frontend supplies to start a subscription purchase.
type CheckoutInput struct {
	PriceID    string `json:"priceId" validate:"required"`
	SuccessURL string `json:"successUrl" validate:"required,url"`
	CancelURL  string `json:"cancelUrl" validate:"required,url"`
}

// CheckoutSession is the handle the frontend redirects through.
type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateCheckoutSession opens a card-based subscription checkout for the
// given price.
func (s *Service) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (*CheckoutSession, error) {
	if strings.TrimSpace(input.PriceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price id required")
	}
	if strings.TrimSpace(input.SuccessURL) == "" || strings.TrimSpace(input.CancelURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "success and cancel urls required")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(input.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(input.SuccessURL),
		CancelURL:  stripe.String(input.CancelURL),
	}
	sess, err := s.stripe.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	return &CheckoutSession{SessionID: sess.ID, URL: sess.URL}, nil
}

// SessionStatus reports how a checkout ended.
type SessionStatus struct {
	Status         string                  `json:"status"`
	CustomerEmail  string                  `json:"customerEmail,omitempty"`
	SubscriptionID string                  `json:"subscriptionId,omitempty"`
	Session        *stripe.CheckoutSession `json:"session"`
}

// VerifySession fetches a checkout session back with the customer and
// subscription expanded so the frontend can confirm the purchase.
func (s *Service) VerifySession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("customer")
	params.AddExpand("subscription")
	sess, err := s.stripe.GetCheckoutSession(ctx, sessionID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve checkout session")
	}

	status := &SessionStatus{
		Status:  string(sess.PaymentStatus),
		Session: sess,
	}
	if sess.CustomerDetails != nil {
		status.CustomerEmail = sess.CustomerDetails.Email
	}
	if sess.Subscription != nil {
		status.SubscriptionID = sess.Subscription.ID
	}
	return status, nil
}

// GetPaymentIntent fetches a single payment intent by id.
func (s *Service) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*stripe.PaymentIntent, error) {
	if strings.TrimSpace(paymentIntentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	intent, err := s.stripe.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve payment intent")
	}
	return intent, nil
}

// BillingEntry is one settled invoice shaped for the frontend.
type BillingEntry struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
	Date        int64   `json:"date"`
	Description string  `json:"description"`
	InvoicePDF  string  `json:"invoice_pdf,omitempty"`
	PeriodStart int64   `json:"period_start"`
	PeriodEnd   int64   `json:"period_end"`
}

// BillingHistory returns the customer's recent invoices, newest first,
// with amounts converted out of minor units.
func (s *Service) BillingHistory(ctx context.Context, customerID string) ([]BillingEntry, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}

	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Limit = stripe.Int64(defaultHistoryLimit)
	params.AddExpand("data.payment_intent")
	invoices, err := s.stripe.ListInvoices(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list invoices")
	}

	history := make([]BillingEntry, 0, len(invoices))
	for _, inv := range invoices {
		if inv == nil {
			continue
		}
		entry := BillingEntry{
			ID:          inv.ID,
			Amount:      float64(inv.AmountPaid) / 100,
			Currency:    strings.ToUpper(string(inv.Currency)),
			Status:      string(inv.Status),
			Date:        inv.Created,
			Description: invoiceDescription(inv),
			InvoicePDF:  inv.InvoicePDF,
			PeriodStart: inv.PeriodStart,
			PeriodEnd:   inv.PeriodEnd,
		}
		history = append(history, entry)
	}
	return history, nil
}

// UpcomingInvoice previews what the customer will be charged on the
// next billing cycle.
type UpcomingInvoice struct {
	AmountDue   float64 `json:"amountDue"`
	Currency    string  `json:"currency"`
	PeriodStart int64   `json:"period_start"`
	PeriodEnd   int64   `json:"period_end"`
	Description string  `json:"description"`
}

// PreviewUpcomingInvoice asks the billing provider for the draft of the
// customer's next invoice. The subscription id is optional; when set the
// preview is scoped to that subscription.
func (s *Service) PreviewUpcomingInvoice(ctx context.Context, customerID, subscriptionID string) (*UpcomingInvoice, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}

	params := &stripe.InvoiceCreatePreviewParams{Customer: stripe.String(customerID)}
	if strings.TrimSpace(subscriptionID) != "" {
		params.Subscription = stripe.String(subscriptionID)
	}
	inv, err := s.stripe.PreviewInvoice(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "preview upcoming invoice")
	}

	return &UpcomingInvoice{
		AmountDue:   float64(inv.AmountDue) / 100,
		Currency:    strings.ToUpper(string(inv.Currency)),
		PeriodStart: inv.PeriodStart,
		PeriodEnd:   inv.PeriodEnd,
		Description: invoiceDescription(inv),
	}, nil
}

// SettleInvoice pushes a draft or open invoice through to payment.
// Drafts are finalized first; anything already paid or voided is a
// state conflict.
func (s *Service) SettleInvoice(ctx context.Context, invoiceID string) (*stripe.Invoice, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}

	inv, err := s.stripe.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve invoice")
	}

	switch inv.Status {
	case stripe.InvoiceStatusDraft:
		inv, err = s.stripe.FinalizeInvoice(ctx, inv.ID, &stripe.InvoiceFinalizeInvoiceParams{
			AutoAdvance: stripe.Bool(false),
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize invoice")
		}
	case stripe.InvoiceStatusOpen:
		// already finalized, go straight to payment
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("invoice %s is %s, not payable", inv.ID, inv.Status))
	}

	paid, err := s.stripe.PayInvoice(ctx, inv.ID, &stripe.InvoicePayParams{})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pay invoice")
	}
	return paid, nil
}

func invoiceDescription(inv *stripe.Invoice) string {
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0] != nil && inv.Lines.Data[0].Description != "" {
		return inv.Lines.Data[0].Description
	}
	return "Pro plan"
}
