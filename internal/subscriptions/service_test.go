package subscriptions

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

type stubStripeClient struct {
	getParams    *stripe.SubscriptionParams
	updateParams *stripe.SubscriptionParams
	listParams   *stripe.PriceListParams

	sub    *stripe.Subscription
	prices []*stripe.Price
	err    error
}

func (s *stubStripeClient) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.getParams = params
	return s.sub, s.err
}

func (s *stubStripeClient) Update(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.updateParams = params
	return s.sub, s.err
}

func (s *stubStripeClient) ListPrices(ctx context.Context, params *stripe.PriceListParams) ([]*stripe.Price, error) {
	s.listParams = params
	return s.prices, s.err
}

type noopRepo struct {
	Repository
}

func newSubscriptionService(t *testing.T, client *stubStripeClient) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:         &noopRepo{},
		StripeClient: client,
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return svc
}

func TestListPricesExpandsProducts(t *testing.T) {
	client := &stubStripeClient{prices: []*stripe.Price{{ID: "price_pro"}}}
	svc := newSubscriptionService(t, client)

	prices, err := svc.ListPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 1)

	require.NotNil(t, client.listParams)
	assert.Contains(t, client.listParams.Expand, stripe.String("data.product"))
	require.NotNil(t, client.listParams.Active)
	assert.True(t, *client.listParams.Active)
}

func TestGetSubscriptionExpandsCustomerAndPrice(t *testing.T) {
	client := &stubStripeClient{sub: &stripe.Subscription{ID: "sub_123"}}
	svc := newSubscriptionService(t, client)

	sub, err := svc.GetSubscription(context.Background(), "sub_123")
	require.NoError(t, err)
	assert.Equal(t, "sub_123", sub.ID)

	require.NotNil(t, client.getParams)
	assert.Contains(t, client.getParams.Expand, stripe.String("customer"))
	assert.Contains(t, client.getParams.Expand, stripe.String("items.data.price.product"))
}

func TestGetSubscriptionRequiresID(t *testing.T) {
	svc := newSubscriptionService(t, &stubStripeClient{})

	_, err := svc.GetSubscription(context.Background(), "")
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestScheduleCancellationSetsFlag(t *testing.T) {
	client := &stubStripeClient{sub: &stripe.Subscription{ID: "sub_123", CancelAtPeriodEnd: true}}
	svc := newSubscriptionService(t, client)

	sub, err := svc.ScheduleCancellation(context.Background(), "sub_123")
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)

	require.NotNil(t, client.updateParams)
	require.NotNil(t, client.updateParams.CancelAtPeriodEnd)
	assert.True(t, *client.updateParams.CancelAtPeriodEnd)
}

func TestReactivateClearsFlag(t *testing.T) {
	client := &stubStripeClient{sub: &stripe.Subscription{ID: "sub_123"}}
	svc := newSubscriptionService(t, client)

	_, err := svc.Reactivate(context.Background(), "sub_123")
	require.NoError(t, err)

	require.NotNil(t, client.updateParams)
	require.NotNil(t, client.updateParams.CancelAtPeriodEnd)
	assert.False(t, *client.updateParams.CancelAtPeriodEnd)
}

func TestStripeFailuresMapToDependency(t *testing.T) {
	client := &stubStripeClient{err: errors.New("stripe down")}
	svc := newSubscriptionService(t, client)

	_, err := svc.ListPrices(context.Background())
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeDependency, appErr.Code())

	_, err = svc.ScheduleCancellation(context.Background(), "sub_123")
	require.Error(t, err)
}
