package payments

import (
	"context"
	"errors"
)

var (
	ErrInvalidSignature   = errors.New("payments: webhook signature verification failed")
	ErrCustomerNotFound   = errors.New("payments: customer not found at provider")
	ErrNoCheckoutURL      = errors.New("payments: no checkout URL returned from provider")
	ErrProviderFailure    = errors.New("payments: provider call failed")
	ErrMalformedEvent     = errors.New("payments: malformed webhook payload")
	ErrMissingWebhookData = errors.New("payments: event is missing its object payload")
)

// Provider is the narrow interface this engine needs from the payment
// provider. Implementations wrap the official SDK and keep provider quirks
// (expandable fields, API version drift) out of the reconciliation logic.
type Provider interface {
	// CreateCustomer creates a provider customer bound to a local user id
	// through metadata.
	CreateCustomer(ctx context.Context, email, userID string) (*Customer, error)
	// GetCustomer fetches a customer. A deleted or unknown customer returns
	// ErrCustomerNotFound so callers can heal stale local bindings.
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	// CreateCheckoutSession creates a hosted checkout session and returns its
	// id and redirect URL.
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	// GetCheckoutSession re-fetches a session with line items expanded, for
	// plan inference when event metadata is incomplete.
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	// GetSubscription fetches a subscription's current state.
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	// CancelSubscription cancels at period end, or immediately.
	CancelSubscription(ctx context.Context, id string, immediately bool) error
	// CreatePortalSession returns a customer portal URL for self-service
	// subscription management.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// ParseWebhook authenticates an inbound event against the shared secret
	// and decodes it into the typed union. A bad signature returns
	// ErrInvalidSignature without further processing.
	ParseWebhook(payload []byte, sigHeader string) (*Event, error)
}
