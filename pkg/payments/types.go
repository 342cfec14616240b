package payments

import "time"

// EventKind is the normalized classification of a provider webhook event.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout_completed"
	EventSubscriptionCreated EventKind = "subscription_created"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventPaymentSucceeded    EventKind = "payment_succeeded"
	EventPaymentFailed       EventKind = "payment_failed"
	EventUnhandled           EventKind = "unhandled"
)

// Metadata is the request metadata this engine attaches to checkout sessions
// and subscriptions so the webhook path does not have to guess. Any field may
// be empty on inbound events; reconciliation falls back to other strategies.
type Metadata struct {
	UserID string
	Plan   string
	Period string
}

// Customer is the provider-side customer record.
type Customer struct {
	ID     string
	Email  string
	UserID string // local user id bound via metadata at creation time
}

// CheckoutSessionRequest describes a hosted checkout session to create.
type CheckoutSessionRequest struct {
	CustomerID string
	PriceID    string
	OneTime    bool // one-time payment mode instead of a recurring subscription
	SuccessURL string
	CancelURL  string
	Locale     string // optional checkout page locale
	Metadata   Metadata
}

// CheckoutSession is the provider's view of a checkout session.
type CheckoutSession struct {
	ID             string
	URL            string // hosted checkout URL; set on freshly created sessions
	CustomerID     string
	SubscriptionID string // set once a recurring checkout produced a subscription
	PriceID        string // first line item's price, when line items are present
	Metadata       Metadata
}

// Subscription is the provider's view of a recurring subscription.
type Subscription struct {
	ID          string
	CustomerID  string
	PriceID     string
	Status      string // provider status vocabulary, not the local one
	PeriodStart time.Time
	PeriodEnd   time.Time
	Metadata    Metadata
}

// Invoice carries the fields payment events are reconciled from.
type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
}

// Event is the typed union delivered by ParseWebhook: exactly one variant
// pointer is non-nil for handled kinds, all are nil for EventUnhandled.
// ID is the provider's event identifier (used for dedup); ProviderType keeps
// the original provider event name for logging.
type Event struct {
	ID           string
	Kind         EventKind
	ProviderType string
	Checkout     *CheckoutSession
	Subscription *Subscription
	Invoice      *Invoice
}
