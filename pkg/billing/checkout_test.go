package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brickrecipes/billing/pkg/billing"
	"github.com/brickrecipes/billing/pkg/entitlement"
	"github.com/brickrecipes/billing/pkg/payments"
	"github.com/brickrecipes/billing/pkg/plans"
)

func newCheckout(t *testing.T, store entitlement.Store, provider payments.Provider) *billing.Checkout {
	t.Helper()
	resolver := billing.NewCustomerResolver(store, provider, entitlement.NewProvisioner(store), nil)
	return billing.NewCheckout(newTestCatalog(t), resolver, store, provider, nil)
}

func TestCheckoutCreateValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	checkout := newCheckout(t, entitlement.NewMemStore(), new(mockProvider))

	_, err := checkout.Create(ctx, billing.CheckoutRequest{
		Email: "a@example.com", Plan: plans.PlanPremium, Period: plans.PeriodMonthly,
		SuccessURL: "https://app/success", CancelURL: "https://app/cancel",
	})
	assert.ErrorIs(t, err, billing.ErrMissingField, "user id is required")

	_, err = checkout.Create(ctx, billing.CheckoutRequest{
		UserID: "user-1", Email: "a@example.com", Plan: plans.PlanFree, Period: plans.PeriodMonthly,
		SuccessURL: "https://app/success", CancelURL: "https://app/cancel",
	})
	assert.ErrorIs(t, err, billing.ErrInvalidPlan, "free has no price")

	_, err = checkout.Create(ctx, billing.CheckoutRequest{
		UserID: "user-1", Email: "a@example.com", Plan: plans.PlanPremium, Period: plans.PeriodOneTime,
		SuccessURL: "https://app/success", CancelURL: "https://app/cancel",
	})
	assert.ErrorIs(t, err, billing.ErrInvalidPlan, "premium is never a one-time purchase")
}

func TestCheckoutCreateRecurring(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemStore()
	require.NoError(t, store.CreateUser(ctx, entitlement.NewUser("user-1", "a@example.com")))

	provider := new(mockProvider)
	provider.On("CreateCustomer", mock.Anything, "a@example.com", "user-1").
		Return(&payments.Customer{ID: "cus_1"}, nil)
	provider.On("CreateCheckoutSession", mock.Anything, payments.CheckoutSessionRequest{
		CustomerID: "cus_1",
		PriceID:    priceMonthly,
		OneTime:    false,
		SuccessURL: "https://app/success",
		CancelURL:  "https://app/cancel",
		Metadata:   payments.Metadata{UserID: "user-1", Plan: "premium", Period: "monthly"},
	}).Return(&payments.CheckoutSession{ID: "cs_1", URL: "https://pay/cs_1"}, nil)

	result, err := newCheckout(t, store, provider).Create(ctx, billing.CheckoutRequest{
		UserID: "user-1", Email: "a@example.com",
		Plan: plans.PlanPremium, Period: plans.PeriodMonthly,
		SuccessURL: "https://app/success", CancelURL: "https://app/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", result.SessionID)
	assert.Equal(t, "https://pay/cs_1", result.URL)
	provider.AssertExpectations(t)
}

func TestCheckoutCreateLifetimeUsesOneTimeMode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemStore()
	require.NoError(t, store.CreateUser(ctx, entitlement.NewUser("user-1", "a@example.com")))

	provider := new(mockProvider)
	provider.On("CreateCustomer", mock.Anything, "a@example.com", "user-1").
		Return(&payments.Customer{ID: "cus_1"}, nil)
	provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req payments.CheckoutSessionRequest) bool {
		return req.OneTime && req.PriceID == priceLifetime
	})).Return(&payments.CheckoutSession{ID: "cs_life", URL: "https://pay/cs_life"}, nil)

	_, err := newCheckout(t, store, provider).Create(ctx, billing.CheckoutRequest{
		UserID: "user-1", Email: "a@example.com",
		Plan: plans.PlanLifetime, Period: plans.PeriodOneTime,
		SuccessURL: "https://app/success", CancelURL: "https://app/cancel",
	})
	require.NoError(t, err)
	provider.AssertExpectations(t)
}

func TestCheckoutCreateEmbedsResolvedUserID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemStore()
	require.NoError(t, store.CreateUser(ctx, entitlement.NewUser("canonical-id", "a@example.com")))

	provider := new(mockProvider)
	provider.On("CreateCustomer", mock.Anything, "a@example.com", "canonical-id").
		Return(&payments.Customer{ID: "cus_1"}, nil)
	provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req payments.CheckoutSessionRequest) bool {
		return req.Metadata.UserID == "canonical-id"
	})).Return(&payments.CheckoutSession{ID: "cs_1", URL: "https://pay/cs_1"}, nil)

	_, err := newCheckout(t, store, provider).Create(ctx, billing.CheckoutRequest{
		UserID: "stale-id", Email: "a@example.com",
		Plan: plans.PlanPremium, Period: plans.PeriodYearly,
		SuccessURL: "https://app/success", CancelURL: "https://app/cancel",
	})
	require.NoError(t, err)
	provider.AssertExpectations(t)
}

func TestPortalSessionRequiresCustomer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemStore()
	require.NoError(t, store.CreateUser(ctx, entitlement.NewUser("user-1", "a@example.com")))

	checkout := newCheckout(t, store, new(mockProvider))
	_, err := checkout.PortalSession(ctx, "user-1", "https://app/account")
	assert.ErrorIs(t, err, billing.ErrNoCustomerForUser)

	_, err = checkout.PortalSession(ctx, "missing", "https://app/account")
	assert.ErrorIs(t, err, entitlement.ErrUserNotFound)
}

func TestPortalSessionReturnsURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemStore()
	require.NoError(t, store.CreateUser(ctx, entitlement.NewUser("user-1", "a@example.com")))
	require.NoError(t, store.SetCustomerID(ctx, "user-1", "cus_1"))

	provider := new(mockProvider)
	provider.On("CreatePortalSession", mock.Anything, "cus_1", "https://app/account").
		Return("https://pay/portal/xyz", nil)

	url, err := newCheckout(t, store, provider).PortalSession(ctx, "user-1", "https://app/account")
	require.NoError(t, err)
	assert.Equal(t, "https://pay/portal/xyz", url)
}
