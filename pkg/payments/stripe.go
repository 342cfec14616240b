package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Metadata keys attached to provider objects. The webhook path reads the same
// keys back, so they must stay stable across deployments.
const (
	metaUserID = "userId"
	metaPlan   = "plan"
	metaPeriod = "period"
)

// StripeConfig holds credentials for the Stripe billing provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeProvider implements Provider on the official Stripe SDK.
type StripeProvider struct {
	client        *client.API
	webhookSecret string
}

// NewStripeProvider returns a Stripe-backed Provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("payments: stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("payments: stripe webhook secret is required")
	}

	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)

	return &StripeProvider{
		client:        sc,
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, email, userID string) (*Customer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata(metaUserID, userID)

	cust, err := p.client.Customers.New(params)
	if err != nil {
		return nil, errors.Join(ErrProviderFailure, err)
	}
	return &Customer{ID: cust.ID, Email: cust.Email, UserID: userID}, nil
}

func (p *StripeProvider) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	cust, err := p.client.Customers.Get(id, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ErrCustomerNotFound
		}
		return nil, errors.Join(ErrProviderFailure, err)
	}
	if cust.Deleted {
		return nil, ErrCustomerNotFound
	}
	return &Customer{ID: cust.ID, Email: cust.Email, UserID: cust.Metadata[metaUserID]}, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(req.CustomerID),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(req.PriceID),
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	for key, value := range metadataMap(req.Metadata) {
		params.AddMetadata(key, value)
	}

	if req.OneTime {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		// Mirror the metadata onto the subscription object itself so
		// subscription.* events can resolve the user without a session fetch.
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadataMap(req.Metadata),
		}
	}
	if req.Locale != "" {
		params.Locale = stripe.String(req.Locale)
	}

	sess, err := p.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, errors.Join(ErrProviderFailure, err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	out := checkoutFromStripe(sess)
	out.URL = sess.URL
	return out, nil
}

func (p *StripeProvider) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	sess, err := p.client.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, errors.Join(ErrProviderFailure, err)
	}
	return checkoutFromStripe(sess), nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.client.Subscriptions.Get(id, params)
	if err != nil {
		return nil, errors.Join(ErrProviderFailure, err)
	}
	return subscriptionFromStripe(sub), nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, id string, immediately bool) error {
	var err error
	if immediately {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		_, err = p.client.Subscriptions.Cancel(id, params)
	} else {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		_, err = p.client.Subscriptions.Update(id, params)
	}
	if err != nil {
		return errors.Join(ErrProviderFailure, err)
	}
	return nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := p.client.BillingPortalSessions.New(params)
	if err != nil {
		return "", errors.Join(ErrProviderFailure, err)
	}
	return sess.URL, nil
}

func (p *StripeProvider) ParseWebhook(payload []byte, sigHeader string) (*Event, error) {
	// Webhook endpoints stay pinned to the API version they were created
	// with, which rarely matches the SDK's pinned version exactly.
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrTooOld) {
			return nil, errors.Join(ErrInvalidSignature, err)
		}
		return nil, errors.Join(ErrMalformedEvent, err)
	}

	out := &Event{ID: event.ID, ProviderType: string(event.Type)}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, ErrMissingWebhookData
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		out.Kind = EventCheckoutCompleted
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		out.Checkout = checkoutFromStripe(&sess)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		switch string(event.Type) {
		case "customer.subscription.created":
			out.Kind = EventSubscriptionCreated
		case "customer.subscription.updated":
			out.Kind = EventSubscriptionUpdated
		default:
			out.Kind = EventSubscriptionDeleted
		}
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		out.Subscription = subscriptionFromStripe(&sub)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		if string(event.Type) == "invoice.payment_succeeded" {
			out.Kind = EventPaymentSucceeded
		} else {
			out.Kind = EventPaymentFailed
		}
		invoice, err := invoiceFromRaw(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		out.Invoice = invoice

	default:
		out.Kind = EventUnhandled
	}

	return out, nil
}

func metadataMap(m Metadata) map[string]string {
	out := make(map[string]string, 3)
	if m.UserID != "" {
		out[metaUserID] = m.UserID
	}
	if m.Plan != "" {
		out[metaPlan] = m.Plan
	}
	if m.Period != "" {
		out[metaPeriod] = m.Period
	}
	return out
}

func metadataFromMap(m map[string]string) Metadata {
	return Metadata{
		UserID: m[metaUserID],
		Plan:   m[metaPlan],
		Period: m[metaPeriod],
	}
}

func checkoutFromStripe(sess *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:       sess.ID,
		Metadata: metadataFromMap(sess.Metadata),
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	if sess.LineItems != nil && len(sess.LineItems.Data) > 0 && sess.LineItems.Data[0].Price != nil {
		out.PriceID = sess.LineItems.Data[0].Price.ID
	}
	return out
}

func subscriptionFromStripe(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: metadataFromMap(sub.Metadata),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodStart > 0 {
			out.PeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		}
		if item.CurrentPeriodEnd > 0 {
			out.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return out
}

// invoiceFromRaw decodes only the invoice fields reconciliation needs,
// tolerating both the legacy top-level subscription reference and the newer
// parent.subscription_details shape.
func invoiceFromRaw(raw json.RawMessage) (*Invoice, error) {
	var inv struct {
		ID           string `json:"id"`
		Customer     string `json:"customer"`
		Subscription string `json:"subscription"`
		Parent       struct {
			SubscriptionDetails struct {
				Subscription string `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}

	subscriptionID := inv.Subscription
	if subscriptionID == "" {
		subscriptionID = inv.Parent.SubscriptionDetails.Subscription
	}
	return &Invoice{
		ID:             inv.ID,
		CustomerID:     inv.Customer,
		SubscriptionID: subscriptionID,
	}, nil
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == 404
	}
	return false
}
