package payments

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
	"github.com/qreahq/qrea-backend/pkg/logger"
)

type stubPaymentClient struct {
	created       *stripe.CheckoutSessionParams
	session       *stripe.CheckoutSession
	sessionErr    error
	intent        *stripe.PaymentIntent
	invoices      []*stripe.Invoice
	invoiceParams *stripe.InvoiceListParams

	invoice       *stripe.Invoice
	invoiceErr    error
	previewParams *stripe.InvoiceCreatePreviewParams
	preview       *stripe.Invoice
	previewErr    error
	finalized     []string
	paid          []string
	payErr        error
}

func (s *stubPaymentClient) CreateCheckoutSession(_ context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.created = params
	return s.session, s.sessionErr
}

func (s *stubPaymentClient) GetCheckoutSession(_ context.Context, _ string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.session, s.sessionErr
}

func (s *stubPaymentClient) GetPaymentIntent(_ context.Context, _ string) (*stripe.PaymentIntent, error) {
	if s.intent == nil {
		return nil, errors.New("no such payment intent")
	}
	return s.intent, nil
}

func (s *stubPaymentClient) ListInvoices(_ context.Context, params *stripe.InvoiceListParams) ([]*stripe.Invoice, error) {
	s.invoiceParams = params
	return s.invoices, nil
}

func (s *stubPaymentClient) GetInvoice(_ context.Context, _ string) (*stripe.Invoice, error) {
	return s.invoice, s.invoiceErr
}

func (s *stubPaymentClient) PreviewInvoice(_ context.Context, params *stripe.InvoiceCreatePreviewParams) (*stripe.Invoice, error) {
	s.previewParams = params
	return s.preview, s.previewErr
}

func (s *stubPaymentClient) FinalizeInvoice(_ context.Context, id string, _ *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error) {
	s.finalized = append(s.finalized, id)
	out := *s.invoice
	out.Status = stripe.InvoiceStatusOpen
	return &out, nil
}

func (s *stubPaymentClient) PayInvoice(_ context.Context, id string, _ *stripe.InvoicePayParams) (*stripe.Invoice, error) {
	if s.payErr != nil {
		return nil, s.payErr
	}
	s.paid = append(s.paid, id)
	out := *s.invoice
	out.Status = stripe.InvoiceStatusPaid
	return &out, nil
}

func newTestService(t *testing.T, client *stubPaymentClient) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Stripe: client,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return svc
}

func TestCreateCheckoutSession(t *testing.T) {
	client := &stubPaymentClient{
		session: &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/cs_1"},
	}
	svc := newTestService(t, client)

	out, err := svc.CreateCheckoutSession(context.Background(), CheckoutInput{
		PriceID:    "price_pro",
		SuccessURL: "https://app.example.com/success",
		CancelURL:  "https://app.example.com/cancel",
	})

	require.NoError(t, err)
	assert.Equal(t, "cs_1", out.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/cs_1", out.URL)

	require.NotNil(t, client.created)
	assert.Equal(t, string(stripe.CheckoutSessionModeSubscription), *client.created.Mode)
	require.Len(t, client.created.LineItems, 1)
	assert.Equal(t, "price_pro", *client.created.LineItems[0].Price)
	assert.Equal(t, int64(1), *client.created.LineItems[0].Quantity)
}

func TestCreateCheckoutSessionValidation(t *testing.T) {
	svc := newTestService(t, &stubPaymentClient{})

	_, err := svc.CreateCheckoutSession(context.Background(), CheckoutInput{PriceID: "  "})

	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestVerifySession(t *testing.T) {
	client := &stubPaymentClient{
		session: &stripe.CheckoutSession{
			ID:              "cs_1",
			PaymentStatus:   stripe.CheckoutSessionPaymentStatusPaid,
			CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: "giulia@example.com"},
			Subscription:    &stripe.Subscription{ID: "sub_1"},
		},
	}
	svc := newTestService(t, client)

	status, err := svc.VerifySession(context.Background(), "cs_1")

	require.NoError(t, err)
	assert.Equal(t, "paid", status.Status)
	assert.Equal(t, "giulia@example.com", status.CustomerEmail)
	assert.Equal(t, "sub_1", status.SubscriptionID)
}

func TestVerifySessionProviderError(t *testing.T) {
	client := &stubPaymentClient{sessionErr: errors.New("stripe down")}
	svc := newTestService(t, client)

	_, err := svc.VerifySession(context.Background(), "cs_1")

	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeDependency, appErr.Code())
}

func TestBillingHistoryShapesInvoices(t *testing.T) {
	client := &stubPaymentClient{
		invoices: []*stripe.Invoice{
			{
				ID:          "in_1",
				AmountPaid:  990,
				Currency:    stripe.CurrencyEUR,
				Status:      stripe.InvoiceStatusPaid,
				Created:     1767225600,
				InvoicePDF:  "https://files.stripe.com/in_1.pdf",
				PeriodStart: 1764547200,
				PeriodEnd:   1767225600,
				Lines: &stripe.InvoiceLineItemList{
					Data: []*stripe.InvoiceLineItem{{Description: "Qrea Pro"}},
				},
			},
			{ID: "in_2", AmountPaid: 990, Currency: stripe.CurrencyEUR},
		},
	}
	svc := newTestService(t, client)

	history, err := svc.BillingHistory(context.Background(), "cus_1")

	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 9.9, history[0].Amount)
	assert.Equal(t, "EUR", history[0].Currency)
	assert.Equal(t, "Qrea Pro", history[0].Description)
	assert.Equal(t, "Pro plan", history[1].Description)

	require.NotNil(t, client.invoiceParams)
	assert.Equal(t, "cus_1", *client.invoiceParams.Customer)
	assert.Equal(t, int64(10), *client.invoiceParams.Limit)
}

func TestPreviewUpcomingInvoice(t *testing.T) {
	client := &stubPaymentClient{
		preview: &stripe.Invoice{
			AmountDue:   990,
			Currency:    stripe.CurrencyEUR,
			PeriodStart: 1767225600,
			PeriodEnd:   1769904000,
			Lines: &stripe.InvoiceLineItemList{
				Data: []*stripe.InvoiceLineItem{{Description: "Qrea Pro"}},
			},
		},
	}
	svc := newTestService(t, client)

	out, err := svc.PreviewUpcomingInvoice(context.Background(), "cus_1", "sub_1")

	require.NoError(t, err)
	assert.Equal(t, 9.9, out.AmountDue)
	assert.Equal(t, "EUR", out.Currency)
	assert.Equal(t, "Qrea Pro", out.Description)

	require.NotNil(t, client.previewParams)
	assert.Equal(t, "cus_1", *client.previewParams.Customer)
	assert.Equal(t, "sub_1", *client.previewParams.Subscription)
}

func TestPreviewUpcomingInvoiceWithoutSubscription(t *testing.T) {
	client := &stubPaymentClient{preview: &stripe.Invoice{Currency: stripe.CurrencyEUR}}
	svc := newTestService(t, client)

	_, err := svc.PreviewUpcomingInvoice(context.Background(), "cus_1", "")

	require.NoError(t, err)
	assert.Nil(t, client.previewParams.Subscription)
}

func TestPreviewUpcomingInvoiceValidation(t *testing.T) {
	svc := newTestService(t, &stubPaymentClient{})

	_, err := svc.PreviewUpcomingInvoice(context.Background(), " ", "sub_1")

	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestSettleInvoiceFinalizesDraft(t *testing.T) {
	client := &stubPaymentClient{
		invoice: &stripe.Invoice{ID: "in_1", Status: stripe.InvoiceStatusDraft},
	}
	svc := newTestService(t, client)

	paid, err := svc.SettleInvoice(context.Background(), "in_1")

	require.NoError(t, err)
	assert.Equal(t, stripe.InvoiceStatusPaid, paid.Status)
	assert.Equal(t, []string{"in_1"}, client.finalized)
	assert.Equal(t, []string{"in_1"}, client.paid)
}

func TestSettleInvoicePaysOpenWithoutFinalizing(t *testing.T) {
	client := &stubPaymentClient{
		invoice: &stripe.Invoice{ID: "in_1", Status: stripe.InvoiceStatusOpen},
	}
	svc := newTestService(t, client)

	_, err := svc.SettleInvoice(context.Background(), "in_1")

	require.NoError(t, err)
	assert.Empty(t, client.finalized)
	assert.Equal(t, []string{"in_1"}, client.paid)
}

func TestSettleInvoiceRejectsPaid(t *testing.T) {
	client := &stubPaymentClient{
		invoice: &stripe.Invoice{ID: "in_1", Status: stripe.InvoiceStatusPaid},
	}
	svc := newTestService(t, client)

	_, err := svc.SettleInvoice(context.Background(), "in_1")

	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
	assert.Empty(t, client.paid)
}

func TestSettleInvoicePaymentFailure(t *testing.T) {
	client := &stubPaymentClient{
		invoice: &stripe.Invoice{ID: "in_1", Status: stripe.InvoiceStatusOpen},
		payErr:  errors.New("card declined"),
	}
	svc := newTestService(t, client)

	_, err := svc.SettleInvoice(context.Background(), "in_1")

	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeDependency, appErr.Code())
}
