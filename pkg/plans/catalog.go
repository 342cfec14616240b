package plans

import (
	"errors"
	"fmt"
)

var (
	ErrPriceNotFound      = errors.New("plans: no price configured for plan/period")
	ErrDuplicatePriceID   = errors.New("plans: duplicate price ID in catalog")
	ErrInvalidCatalogItem = errors.New("plans: invalid catalog item")
)

type priceKey struct {
	plan   Plan
	period Period
}

// Catalog is a pure lookup table mapping (plan, period) to the payment
// provider's price identifier and back. It performs no I/O after construction.
type Catalog struct {
	prices map[priceKey]Price
	byID   map[string]priceKey
}

// Item declares one purchasable (plan, period) pair for catalog construction.
type Item struct {
	Plan   Plan
	Period Period
	Price  Price
}

// NewCatalog builds a catalog from the given items. Price IDs must be unique
// since the reverse mapping is what webhook plan inference relies on.
func NewCatalog(items ...Item) (*Catalog, error) {
	c := &Catalog{
		prices: make(map[priceKey]Price, len(items)),
		byID:   make(map[string]priceKey, len(items)),
	}
	for _, it := range items {
		if !it.Plan.Valid() || !it.Period.Valid() || it.Price.ID == "" {
			return nil, errors.Join(ErrInvalidCatalogItem,
				fmt.Errorf("plan=%q period=%q price_id=%q", it.Plan, it.Period, it.Price.ID))
		}
		if _, exists := c.byID[it.Price.ID]; exists {
			return nil, errors.Join(ErrDuplicatePriceID, fmt.Errorf("price_id=%q", it.Price.ID))
		}
		key := priceKey{plan: it.Plan, period: it.Period}
		c.prices[key] = it.Price
		c.byID[it.Price.ID] = key
	}
	return c, nil
}

// PriceIDFor returns the provider price identifier for a (plan, period) pair.
// Unknown pairs return ok=false rather than an error so callers can branch.
func (c *Catalog) PriceIDFor(plan Plan, period Period) (string, bool) {
	price, ok := c.prices[priceKey{plan: plan, period: period}]
	if !ok {
		return "", false
	}
	return price.ID, true
}

// PriceFor returns the full price record for a (plan, period) pair.
func (c *Catalog) PriceFor(plan Plan, period Period) (Price, bool) {
	price, ok := c.prices[priceKey{plan: plan, period: period}]
	return price, ok
}

// PlanForPriceID is the reverse mapping used to infer plan and period from
// the price actually billed when event metadata is missing.
func (c *Catalog) PlanForPriceID(priceID string) (Plan, Period, bool) {
	key, ok := c.byID[priceID]
	if !ok {
		return "", "", false
	}
	return key.plan, key.period, true
}

// Config carries the provider price identifiers for the standard catalog.
// These correspond to prices created in the provider's dashboard.
type Config struct {
	PremiumMonthlyPriceID string `env:"STRIPE_PREMIUM_MONTHLY_PRICE_ID,required"`
	PremiumYearlyPriceID  string `env:"STRIPE_PREMIUM_YEARLY_PRICE_ID,required"`
	LifetimePriceID       string `env:"STRIPE_LIFETIME_PRICE_ID,required"`
}

// NewCatalogFromConfig builds the standard three-price catalog with the
// published amounts: premium $9.99/mo, $89.99/yr, lifetime $249 one-time.
func NewCatalogFromConfig(cfg Config) (*Catalog, error) {
	return NewCatalog(
		Item{Plan: PlanPremium, Period: PeriodMonthly, Price: Price{ID: cfg.PremiumMonthlyPriceID, Amount: 999, Currency: "usd"}},
		Item{Plan: PlanPremium, Period: PeriodYearly, Price: Price{ID: cfg.PremiumYearlyPriceID, Amount: 8999, Currency: "usd"}},
		Item{Plan: PlanLifetime, Period: PeriodOneTime, Price: Price{ID: cfg.LifetimePriceID, Amount: 24900, Currency: "usd"}},
	)
}
