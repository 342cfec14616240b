package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brickrecipes/billing/pkg/entitlement"
	"github.com/brickrecipes/billing/pkg/logger"
	"github.com/brickrecipes/billing/pkg/payments"
	"github.com/brickrecipes/billing/pkg/plans"
)

// CheckoutRequest describes one purchase intent from an authenticated user.
type CheckoutRequest struct {
	UserID     string
	Email      string
	Plan       plans.Plan
	Period     plans.Period
	SuccessURL string
	CancelURL  string
	Locale     string // optional hosted page locale
}

// CheckoutResult is the redirect handed back to the client.
type CheckoutResult struct {
	SessionID string
	URL       string
}

// Checkout orchestrates hosted checkout session creation: catalog
// validation, customer resolution, then session creation with reconciliation
// metadata embedded so the webhook path can resolve the purchase without
// guessing.
type Checkout struct {
	catalog  *plans.Catalog
	resolver *CustomerResolver
	store    entitlement.Store
	provider payments.Provider
	log      *slog.Logger
}

// NewCheckout returns a Checkout orchestrator. Panics on nil dependencies.
func NewCheckout(catalog *plans.Catalog, resolver *CustomerResolver, store entitlement.Store, provider payments.Provider, log *slog.Logger) *Checkout {
	if catalog == nil {
		panic("billing: catalog is required")
	}
	if resolver == nil {
		panic("billing: customer resolver is required")
	}
	if store == nil {
		panic("billing: store is required")
	}
	if provider == nil {
		panic("billing: payment provider is required")
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Checkout{
		catalog:  catalog,
		resolver: resolver,
		store:    store,
		provider: provider,
		log:      log,
	}
}

// Create validates the request against the catalog, resolves the provider
// customer, and creates a hosted checkout session. Lifetime purchases use
// one-time payment mode; everything else is a recurring subscription.
func (c *Checkout) Create(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.UserID == "" || req.Email == "" || req.SuccessURL == "" || req.CancelURL == "" {
		return nil, errors.Join(ErrMissingField,
			fmt.Errorf("user_id=%q email=%q success_url=%q cancel_url=%q",
				req.UserID, req.Email, req.SuccessURL, req.CancelURL))
	}

	priceID, ok := c.catalog.PriceIDFor(req.Plan, req.Period)
	if !ok {
		return nil, errors.Join(ErrInvalidPlan,
			fmt.Errorf("plan=%q period=%q", req.Plan, req.Period))
	}

	customerID, resolvedUserID, err := c.resolver.Resolve(ctx, req.UserID, req.Email)
	if err != nil {
		return nil, err
	}
	if resolvedUserID != req.UserID {
		// Resolution landed on a different canonical account. The session
		// metadata must carry the id the webhook will find in the store.
		c.log.InfoContext(ctx, "checkout user resolved to a different account",
			logger.UserID(req.UserID), slog.String("resolved_user_id", resolvedUserID))
	}

	sess, err := c.provider.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		CustomerID: customerID,
		PriceID:    priceID,
		OneTime:    req.Plan == plans.PlanLifetime,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Locale:     req.Locale,
		Metadata: payments.Metadata{
			UserID: resolvedUserID,
			Plan:   string(req.Plan),
			Period: string(req.Period),
		},
	})
	if err != nil {
		return nil, err
	}

	c.log.InfoContext(ctx, "checkout session created",
		logger.UserID(resolvedUserID),
		logger.Plan(req.Plan),
		slog.String("session_id", sess.ID))
	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// PortalSession returns a provider-hosted portal URL where the user manages
// their own subscription. Users who never went through a payment flow have
// no customer to open a portal for.
func (c *Checkout) PortalSession(ctx context.Context, userID, returnURL string) (string, error) {
	if userID == "" || returnURL == "" {
		return "", ErrMissingField
	}

	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.ExternalCustomerID == "" {
		return "", ErrNoCustomerForUser
	}
	return c.provider.CreatePortalSession(ctx, user.ExternalCustomerID, returnURL)
}
