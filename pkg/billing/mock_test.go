package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brickrecipes/billing/pkg/payments"
	"github.com/brickrecipes/billing/pkg/plans"
)

const (
	priceMonthly  = "price_premium_monthly"
	priceYearly   = "price_premium_yearly"
	priceLifetime = "price_lifetime"
)

func newTestCatalog(t *testing.T) *plans.Catalog {
	t.Helper()
	catalog, err := plans.NewCatalog(
		plans.Item{Plan: plans.PlanPremium, Period: plans.PeriodMonthly, Price: plans.Price{ID: priceMonthly, Amount: 999, Currency: "usd"}},
		plans.Item{Plan: plans.PlanPremium, Period: plans.PeriodYearly, Price: plans.Price{ID: priceYearly, Amount: 8999, Currency: "usd"}},
		plans.Item{Plan: plans.PlanLifetime, Period: plans.PeriodOneTime, Price: plans.Price{ID: priceLifetime, Amount: 24900, Currency: "usd"}},
	)
	require.NoError(t, err)
	return catalog
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCustomer(ctx context.Context, email, userID string) (*payments.Customer, error) {
	args := m.Called(ctx, email, userID)
	if c := args.Get(0); c != nil {
		return c.(*payments.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) GetCustomer(ctx context.Context, id string) (*payments.Customer, error) {
	args := m.Called(ctx, id)
	if c := args.Get(0); c != nil {
		return c.(*payments.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (*payments.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if s := args.Get(0); s != nil {
		return s.(*payments.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) GetCheckoutSession(ctx context.Context, id string) (*payments.CheckoutSession, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*payments.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) GetSubscription(ctx context.Context, id string) (*payments.Subscription, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*payments.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, id string, immediately bool) error {
	args := m.Called(ctx, id, immediately)
	return args.Error(0)
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) ParseWebhook(payload []byte, sigHeader string) (*payments.Event, error) {
	args := m.Called(payload, sigHeader)
	if e := args.Get(0); e != nil {
		return e.(*payments.Event), args.Error(1)
	}
	return nil, args.Error(1)
}
