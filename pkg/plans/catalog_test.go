package plans_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickrecipes/billing/pkg/plans"
)

func testCatalog(t *testing.T) *plans.Catalog {
	t.Helper()
	catalog, err := plans.NewCatalogFromConfig(plans.Config{
		PremiumMonthlyPriceID: "price_premium_monthly",
		PremiumYearlyPriceID:  "price_premium_yearly",
		LifetimePriceID:       "price_lifetime",
	})
	require.NoError(t, err)
	return catalog
}

func TestCatalogPriceIDFor(t *testing.T) {
	t.Parallel()

	catalog := testCatalog(t)

	tests := []struct {
		name   string
		plan   plans.Plan
		period plans.Period
		wantID string
		wantOK bool
	}{
		{"premium monthly", plans.PlanPremium, plans.PeriodMonthly, "price_premium_monthly", true},
		{"premium yearly", plans.PlanPremium, plans.PeriodYearly, "price_premium_yearly", true},
		{"lifetime one-time", plans.PlanLifetime, plans.PeriodOneTime, "price_lifetime", true},
		{"free has no price", plans.PlanFree, plans.PeriodMonthly, "", false},
		{"lifetime monthly is not sold", plans.PlanLifetime, plans.PeriodMonthly, "", false},
		{"unknown plan", plans.Plan("platinum"), plans.PeriodMonthly, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, ok := catalog.PriceIDFor(tt.plan, tt.period)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestCatalogPlanForPriceID(t *testing.T) {
	t.Parallel()

	catalog := testCatalog(t)

	plan, period, ok := catalog.PlanForPriceID("price_premium_monthly")
	require.True(t, ok)
	assert.Equal(t, plans.PlanPremium, plan)
	assert.Equal(t, plans.PeriodMonthly, period)

	plan, period, ok = catalog.PlanForPriceID("price_lifetime")
	require.True(t, ok)
	assert.Equal(t, plans.PlanLifetime, plan)
	assert.Equal(t, plans.PeriodOneTime, period)

	_, _, ok = catalog.PlanForPriceID("price_unknown")
	assert.False(t, ok)
}

func TestNewCatalogRejectsDuplicatePriceIDs(t *testing.T) {
	t.Parallel()

	_, err := plans.NewCatalog(
		plans.Item{Plan: plans.PlanPremium, Period: plans.PeriodMonthly, Price: plans.Price{ID: "price_same"}},
		plans.Item{Plan: plans.PlanPremium, Period: plans.PeriodYearly, Price: plans.Price{ID: "price_same"}},
	)
	assert.ErrorIs(t, err, plans.ErrDuplicatePriceID)
}

func TestNewCatalogRejectsInvalidItems(t *testing.T) {
	t.Parallel()

	_, err := plans.NewCatalog(plans.Item{Plan: "gold", Period: plans.PeriodMonthly, Price: plans.Price{ID: "price_x"}})
	assert.ErrorIs(t, err, plans.ErrInvalidCatalogItem)

	_, err = plans.NewCatalog(plans.Item{Plan: plans.PlanPremium, Period: plans.PeriodMonthly})
	assert.ErrorIs(t, err, plans.ErrInvalidCatalogItem)
}

func TestLimitsFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		plan plans.Plan
		want plans.Limits
	}{
		{plans.PlanFree, plans.Limits{Brick: 3, Video: 3}},
		{plans.PlanPremium, plans.Limits{Brick: plans.Unlimited, Video: 100}},
		{plans.PlanLifetime, plans.Limits{Brick: plans.Unlimited, Video: plans.Unlimited}},
		{plans.Plan("bogus"), plans.Limits{Brick: 3, Video: 3}},
	}

	for _, tt := range tests {
		t.Run(string(tt.plan), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, plans.LimitsFor(tt.plan))
		})
	}
}

func TestParseCatalog(t *testing.T) {
	t.Parallel()

	raw := []byte(`
prices:
  - plan: premium
    period: monthly
    price_id: price_m
    amount: 999
  - plan: lifetime
    period: one_time_purchase
    price_id: price_l
    amount: 24900
    currency: eur
`)
	catalog, err := plans.ParseCatalog(raw)
	require.NoError(t, err)

	price, ok := catalog.PriceFor(plans.PlanLifetime, plans.PeriodOneTime)
	require.True(t, ok)
	assert.Equal(t, "eur", price.Currency)

	price, ok = catalog.PriceFor(plans.PlanPremium, plans.PeriodMonthly)
	require.True(t, ok)
	assert.Equal(t, "usd", price.Currency, "currency defaults to usd")

	_, err = plans.ParseCatalog([]byte("prices: []"))
	assert.ErrorIs(t, err, plans.ErrFailedToLoadCatalog)
}
