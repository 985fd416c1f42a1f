package payments

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/invoice"
	"github.com/stripe/stripe-go/v84/paymentintent"

	pkgstripe "github.com/qreahq/qrea-backend/pkg/stripe"
)

// StripePaymentClient exposes the subset of Stripe operations the payment service relies on.
type StripePaymentClient interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	ListInvoices(ctx context.Context, params *stripe.InvoiceListParams) ([]*stripe.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error)
	PreviewInvoice(ctx context.Context, params *stripe.InvoiceCreatePreviewParams) (*stripe.Invoice, error)
	FinalizeInvoice(ctx context.Context, id string, params *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error)
	PayInvoice(ctx context.Context, id string, params *stripe.InvoicePayParams) (*stripe.Invoice, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the payment service can be tested.
func NewStripeClient(api *pkgstripe.Client) StripePaymentClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params == nil {
		params = &stripe.CheckoutSessionParams{}
	}
	params.Context = ctx
	return session.New(params)
}

func (w *stripeClientWrapper) GetCheckoutSession(ctx context.Context, id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params == nil {
		params = &stripe.CheckoutSessionParams{}
	}
	params.Context = ctx
	return session.Get(id, params)
}

func (w *stripeClientWrapper) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	return paymentintent.Get(id, params)
}

func (w *stripeClientWrapper) ListInvoices(ctx context.Context, params *stripe.InvoiceListParams) ([]*stripe.Invoice, error) {
	if params == nil {
		params = &stripe.InvoiceListParams{}
	}
	params.Context = ctx
	iter := invoice.List(params)
	var invoices []*stripe.Invoice
	for iter.Next() {
		invoices = append(invoices, iter.Invoice())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (w *stripeClientWrapper) GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	return invoice.Get(id, params)
}

func (w *stripeClientWrapper) PreviewInvoice(ctx context.Context, params *stripe.InvoiceCreatePreviewParams) (*stripe.Invoice, error) {
	if params == nil {
		params = &stripe.InvoiceCreatePreviewParams{}
	}
	params.Context = ctx
	return invoice.CreatePreview(params)
}

func (w *stripeClientWrapper) FinalizeInvoice(ctx context.Context, id string, params *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error) {
	if params == nil {
		params = &stripe.InvoiceFinalizeInvoiceParams{}
	}
	params.Context = ctx
	return invoice.FinalizeInvoice(id, params)
}

func (w *stripeClientWrapper) PayInvoice(ctx context.Context, id string, params *stripe.InvoicePayParams) (*stripe.Invoice, error) {
	if params == nil {
		params = &stripe.InvoicePayParams{}
	}
	params.Context = ctx
	return invoice.Pay(id, params)
}
