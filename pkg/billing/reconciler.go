package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brickrecipes/billing/pkg/entitlement"
	"github.com/brickrecipes/billing/pkg/logger"
	"github.com/brickrecipes/billing/pkg/payments"
	"github.com/brickrecipes/billing/pkg/plans"
)

// Outcome classifies how a webhook delivery was concluded.
type Outcome string

const (
	// OutcomeProcessed means local state was brought in line with the event.
	OutcomeProcessed Outcome = "processed"
	// OutcomeNoOp means the event was acknowledged without a state change:
	// duplicates, unhandled types, and events whose subject could not be
	// resolved. These must still be acknowledged so the provider stops
	// redelivering.
	OutcomeNoOp Outcome = "processed_noop"
	// OutcomeRejected means the delivery itself was invalid (bad signature,
	// malformed payload) and nothing was read from it.
	OutcomeRejected Outcome = "rejected"
)

// Result reports the conclusion of one webhook delivery. Reason is a short
// operator-facing explanation, never parsed.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Reconciler drives local entitlement state from provider webhook events.
//
// It never trusts a single source: user identity and plan are resolved
// through ordered fallback chains, and every subscription write is an upsert
// keyed by the provider's subscription id, so redelivered events converge on
// the same row instead of duplicating it.
type Reconciler struct {
	provider payments.Provider
	store    entitlement.Store
	catalog  *plans.Catalog
	dedup    DedupCache
	log      *slog.Logger
	now      func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithDedupCache short-circuits redelivered events by provider event id.
// Purely an optimization; reconciliation is idempotent without it.
func WithDedupCache(cache DedupCache) ReconcilerOption {
	return func(r *Reconciler) { r.dedup = cache }
}

// WithReconcilerLogger sets the reconciler's logger.
func WithReconcilerLogger(log *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReconciler returns a Reconciler. Panics on nil dependencies.
func NewReconciler(provider payments.Provider, store entitlement.Store, catalog *plans.Catalog, opts ...ReconcilerOption) *Reconciler {
	if provider == nil {
		panic("billing: payment provider is required")
	}
	if store == nil {
		panic("billing: store is required")
	}
	if catalog == nil {
		panic("billing: catalog is required")
	}
	r := &Reconciler{
		provider: provider,
		store:    store,
		catalog:  catalog,
		log:      logger.Noop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle authenticates and processes one webhook delivery.
//
// A non-nil error means the delivery must be retried or rejected by the
// transport layer: signature and decode failures carry OutcomeRejected, while
// store or provider failures carry a zero Result so the caller returns a
// retryable status. A nil error always carries a terminal Result and the
// delivery must be acknowledged.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, sigHeader string) (Result, error) {
	event, err := r.provider.ParseWebhook(payload, sigHeader)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			r.log.WarnContext(ctx, "webhook signature verification failed", logger.Error(err))
			return Result{Outcome: OutcomeRejected, Reason: "invalid signature"}, err
		}
		r.log.ErrorContext(ctx, "webhook payload could not be decoded", logger.Error(err))
		return Result{Outcome: OutcomeRejected, Reason: "malformed payload"}, err
	}

	log := r.log.With(logger.EventID(event.ID), logger.EventType(event.ProviderType))

	if r.dedup != nil {
		seen, derr := r.dedup.Seen(ctx, event.ID)
		if derr != nil {
			// Cache trouble never blocks reconciliation; the store-level
			// idempotency handles the duplicate the slow way.
			log.WarnContext(ctx, "dedup cache unavailable, continuing", logger.Error(derr))
		} else if seen {
			log.InfoContext(ctx, "duplicate webhook delivery skipped")
			return Result{Outcome: OutcomeNoOp, Reason: "duplicate delivery"}, nil
		}
	}

	result, err := r.dispatch(ctx, log, event)
	if err != nil {
		return result, err
	}

	// The marker is recorded only after a terminal outcome. A delivery that
	// failed partway stays unmarked, so the provider's redelivery reruns the
	// transitions instead of being skipped.
	if r.dedup != nil {
		if derr := r.dedup.MarkSeen(ctx, event.ID); derr != nil {
			log.WarnContext(ctx, "dedup marker not recorded", logger.Error(derr))
		}
	}
	return result, nil
}

func (r *Reconciler) dispatch(ctx context.Context, log *slog.Logger, event *payments.Event) (Result, error) {
	switch event.Kind {
	case payments.EventCheckoutCompleted:
		return r.handleCheckoutCompleted(ctx, log, event)
	case payments.EventSubscriptionCreated:
		return r.handleSubscriptionCreated(ctx, log, event)
	case payments.EventSubscriptionUpdated, payments.EventSubscriptionDeleted:
		return r.handleSubscriptionChanged(ctx, log, event)
	case payments.EventPaymentSucceeded:
		return r.handlePaymentSucceeded(ctx, log, event)
	case payments.EventPaymentFailed:
		return r.handlePaymentFailed(ctx, log, event)
	default:
		log.DebugContext(ctx, "unhandled event type acknowledged")
		return Result{Outcome: OutcomeNoOp, Reason: "unhandled event type"}, nil
	}
}

// handleCheckoutCompleted applies one-time lifetime purchases. Recurring
// checkouts are deliberately left to the subscription created event, which
// carries the authoritative billing period.
func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, log *slog.Logger, event *payments.Event) (Result, error) {
	sess := event.Checkout

	userID, err := r.resolveUser(ctx, log, sess.Metadata.UserID, sess.CustomerID)
	if err != nil {
		return Result{}, err
	}
	if userID == "" {
		log.ErrorContext(ctx, "checkout completed for unresolvable user, acknowledging",
			logger.CustomerID(sess.CustomerID), slog.String("session_id", sess.ID))
		return Result{Outcome: OutcomeNoOp, Reason: "user could not be resolved"}, nil
	}

	plan, period, err := r.resolveCheckoutPlan(ctx, log, sess)
	if err != nil {
		return Result{}, err
	}
	if !plan.Valid() {
		log.ErrorContext(ctx, "checkout completed with unresolvable plan, acknowledging",
			logger.UserID(userID), slog.String("session_id", sess.ID))
		return Result{Outcome: OutcomeNoOp, Reason: "plan could not be resolved"}, nil
	}

	if plan != plans.PlanLifetime {
		log.InfoContext(ctx, "recurring checkout deferred to subscription event",
			logger.UserID(userID), logger.Plan(plan), slog.String("period", string(period)))
		return Result{Outcome: OutcomeNoOp, Reason: "recurring purchase handled on subscription creation"}, nil
	}

	if err := r.store.SetPlan(ctx, userID, plans.PlanLifetime); err != nil {
		return Result{}, err
	}
	priceID, _ := r.catalog.PriceIDFor(plans.PlanLifetime, plans.PeriodOneTime)
	// One-time purchases have no provider subscription; the session id is the
	// stable external key the upsert converges on.
	now := r.now()
	if err := r.upsertSubscription(ctx, &entitlement.Subscription{
		UserID:                 userID,
		Plan:                   plans.PlanLifetime,
		Period:                 plans.PeriodOneTime,
		StartDate:              now,
		EndDate:                entitlement.LifetimeEndDate,
		ExternalSubscriptionID: sess.ID,
		ExternalPriceID:        priceID,
		Status:                 entitlement.StatusActive,
	}); err != nil {
		return Result{}, err
	}

	log.InfoContext(ctx, "lifetime purchase applied", logger.UserID(userID))
	return Result{Outcome: OutcomeProcessed, Reason: "lifetime purchase applied"}, nil
}

func (r *Reconciler) handleSubscriptionCreated(ctx context.Context, log *slog.Logger, event *payments.Event) (Result, error) {
	sub := event.Subscription

	userID, err := r.resolveUser(ctx, log, sub.Metadata.UserID, sub.CustomerID)
	if err != nil {
		return Result{}, err
	}
	if userID == "" {
		log.ErrorContext(ctx, "subscription created for unresolvable user, acknowledging",
			logger.CustomerID(sub.CustomerID), logger.SubscriptionID(sub.ID))
		return Result{Outcome: OutcomeNoOp, Reason: "user could not be resolved"}, nil
	}

	plan, period, err := r.resolveSubscriptionPlan(ctx, log, sub)
	if err != nil {
		return Result{}, err
	}
	if !plan.Valid() {
		log.ErrorContext(ctx, "subscription created with unresolvable plan, acknowledging",
			logger.UserID(userID), logger.SubscriptionID(sub.ID))
		return Result{Outcome: OutcomeNoOp, Reason: "plan could not be resolved"}, nil
	}

	if err := r.store.SetPlan(ctx, userID, plan); err != nil {
		return Result{}, err
	}

	// Prefer the billing period bounds carried by the event: they are
	// authoritative and make redelivered events write identical values.
	start, end := sub.PeriodStart, sub.PeriodEnd
	if start.IsZero() || end.IsZero() {
		start = r.now()
		end = addPeriod(start, period)
	}

	if err := r.upsertSubscription(ctx, &entitlement.Subscription{
		UserID:                 userID,
		Plan:                   plan,
		Period:                 period,
		StartDate:              start,
		EndDate:                end,
		ExternalSubscriptionID: sub.ID,
		ExternalPriceID:        sub.PriceID,
		Status:                 entitlement.StatusActive,
	}); err != nil {
		return Result{}, err
	}

	log.InfoContext(ctx, "subscription activated",
		logger.UserID(userID), logger.SubscriptionID(sub.ID), logger.Plan(plan))
	return Result{Outcome: OutcomeProcessed, Reason: "subscription activated"}, nil
}

// handleSubscriptionChanged maps provider status transitions (updates and
// deletions alike) onto the local row found by the provider subscription id.
func (r *Reconciler) handleSubscriptionChanged(ctx context.Context, log *slog.Logger, event *payments.Event) (Result, error) {
	sub := event.Subscription

	local, err := r.store.GetSubscriptionByExternalID(ctx, sub.ID)
	if errors.Is(err, entitlement.ErrSubscriptionNotFound) {
		// Deletions for subscriptions this system never recorded (or already
		// swept) are acknowledged rather than retried forever.
		log.WarnContext(ctx, "status change for unknown subscription acknowledged",
			logger.SubscriptionID(sub.ID))
		return Result{Outcome: OutcomeNoOp, Reason: "no local subscription"}, nil
	}
	if err != nil {
		return Result{}, err
	}

	status := mapProviderStatus(sub.Status)
	if event.Kind == payments.EventSubscriptionDeleted {
		status = entitlement.StatusCancelled
	}

	if err := r.store.SetSubscriptionStatus(ctx, local.ID, status); err != nil {
		return Result{}, err
	}
	if status == entitlement.StatusCancelled {
		if err := r.store.SetPlan(ctx, local.UserID, plans.PlanFree); err != nil {
			return Result{}, err
		}
	}

	log.InfoContext(ctx, "subscription status updated",
		logger.UserID(local.UserID), logger.SubscriptionID(sub.ID),
		slog.String("status", string(status)))
	return Result{Outcome: OutcomeProcessed, Reason: "status set to " + string(status)}, nil
}

// handlePaymentSucceeded acknowledges renewal invoices without touching the
// row. Period extension and past_due recovery both arrive through
// customer.subscription.updated, which keeps a single writer for those
// fields.
func (r *Reconciler) handlePaymentSucceeded(ctx context.Context, log *slog.Logger, event *payments.Event) (Result, error) {
	inv := event.Invoice
	if inv.SubscriptionID == "" {
		log.DebugContext(ctx, "invoice without subscription acknowledged")
		return Result{Outcome: OutcomeNoOp, Reason: "invoice has no subscription"}, nil
	}

	local, err := r.store.GetSubscriptionByExternalID(ctx, inv.SubscriptionID)
	if errors.Is(err, entitlement.ErrSubscriptionNotFound) {
		log.WarnContext(ctx, "payment succeeded for unknown subscription acknowledged",
			logger.SubscriptionID(inv.SubscriptionID))
		return Result{Outcome: OutcomeNoOp, Reason: "no local subscription"}, nil
	}
	if err != nil {
		return Result{}, err
	}

	log.InfoContext(ctx, "payment succeeded acknowledged",
		logger.UserID(local.UserID), logger.SubscriptionID(inv.SubscriptionID))
	return Result{Outcome: OutcomeNoOp, Reason: "payment recorded, no state change"}, nil
}

func (r *Reconciler) handlePaymentFailed(ctx context.Context, log *slog.Logger, event *payments.Event) (Result, error) {
	inv := event.Invoice
	if inv.SubscriptionID == "" {
		log.DebugContext(ctx, "invoice without subscription acknowledged")
		return Result{Outcome: OutcomeNoOp, Reason: "invoice has no subscription"}, nil
	}

	local, err := r.store.GetSubscriptionByExternalID(ctx, inv.SubscriptionID)
	if errors.Is(err, entitlement.ErrSubscriptionNotFound) {
		log.WarnContext(ctx, "payment failed for unknown subscription acknowledged",
			logger.SubscriptionID(inv.SubscriptionID))
		return Result{Outcome: OutcomeNoOp, Reason: "no local subscription"}, nil
	}
	if err != nil {
		return Result{}, err
	}

	// The plan stays untouched: past_due is a grace state, and the eventual
	// cancellation event is what downgrades the user.
	if err := r.store.SetSubscriptionStatus(ctx, local.ID, entitlement.StatusPastDue); err != nil {
		return Result{}, err
	}

	log.WarnContext(ctx, "subscription marked past due",
		logger.UserID(local.UserID), logger.SubscriptionID(inv.SubscriptionID))
	return Result{Outcome: OutcomeProcessed, Reason: "subscription marked past due"}, nil
}

// resolveUser finds the local user an event belongs to. The chain runs from
// cheapest to most expensive: event metadata, then the local customer
// binding, then the provider's customer record (self-healing the local
// binding when it hits). An empty result with a nil error means the user is
// genuinely unresolvable and the event must be acknowledged as a no-op.
func (r *Reconciler) resolveUser(ctx context.Context, log *slog.Logger, metaUserID, customerID string) (string, error) {
	if metaUserID != "" {
		return metaUserID, nil
	}
	if customerID == "" {
		return "", nil
	}

	user, err := r.store.GetUserByExternalCustomerID(ctx, customerID)
	if err == nil {
		return user.ID, nil
	}
	if !errors.Is(err, entitlement.ErrUserNotFound) {
		return "", err
	}

	cust, err := r.provider.GetCustomer(ctx, customerID)
	if errors.Is(err, payments.ErrCustomerNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if cust.UserID == "" {
		return "", nil
	}

	// The provider knew the binding but the local row may not even exist.
	// Materialize it and heal the binding so the entitlement lands and the
	// next event resolves on the first lookup.
	if err := r.store.CreateUser(ctx, entitlement.NewUser(cust.UserID, cust.Email)); err != nil &&
		!errors.Is(err, entitlement.ErrUserAlreadyExists) {
		return "", err
	}
	if err := r.store.SetCustomerID(ctx, cust.UserID, customerID); err != nil {
		return "", err
	}
	log.InfoContext(ctx, "restored customer binding from provider metadata",
		logger.UserID(cust.UserID), logger.CustomerID(customerID))
	return cust.UserID, nil
}

// resolveCheckoutPlan infers (plan, period) for a checkout session: metadata
// first, then the reverse price mapping, then a session re-fetch with line
// items expanded. An invalid plan with nil error means inference failed and
// the caller must not guess.
func (r *Reconciler) resolveCheckoutPlan(ctx context.Context, log *slog.Logger, sess *payments.CheckoutSession) (plans.Plan, plans.Period, error) {
	if plan, period, ok := planFromMetadata(sess.Metadata); ok {
		return plan, period, nil
	}
	if plan, period, ok := r.catalog.PlanForPriceID(sess.PriceID); ok {
		return plan, period, nil
	}

	fetched, err := r.provider.GetCheckoutSession(ctx, sess.ID)
	if err != nil {
		return "", "", err
	}
	if plan, period, ok := planFromMetadata(fetched.Metadata); ok {
		return plan, period, nil
	}
	if plan, period, ok := r.catalog.PlanForPriceID(fetched.PriceID); ok {
		return plan, period, nil
	}

	// Last resort for recurring checkouts: the subscription the session
	// produced knows what price is actually being billed.
	if fetched.SubscriptionID != "" {
		sub, err := r.provider.GetSubscription(ctx, fetched.SubscriptionID)
		if err != nil {
			return "", "", err
		}
		if plan, period, ok := r.catalog.PlanForPriceID(sub.PriceID); ok {
			return plan, period, nil
		}
	}

	log.WarnContext(ctx, "plan inference exhausted for checkout session",
		slog.String("session_id", sess.ID), slog.String("price_id", sess.PriceID))
	return "", "", nil
}

// resolveSubscriptionPlan infers (plan, period) for a subscription event:
// metadata, reverse price mapping, then a subscription re-fetch.
func (r *Reconciler) resolveSubscriptionPlan(ctx context.Context, log *slog.Logger, sub *payments.Subscription) (plans.Plan, plans.Period, error) {
	if plan, period, ok := planFromMetadata(sub.Metadata); ok {
		return plan, period, nil
	}
	if plan, period, ok := r.catalog.PlanForPriceID(sub.PriceID); ok {
		return plan, period, nil
	}

	fetched, err := r.provider.GetSubscription(ctx, sub.ID)
	if err != nil {
		return "", "", err
	}
	if plan, period, ok := planFromMetadata(fetched.Metadata); ok {
		return plan, period, nil
	}
	if plan, period, ok := r.catalog.PlanForPriceID(fetched.PriceID); ok {
		return plan, period, nil
	}

	log.WarnContext(ctx, "plan inference exhausted for subscription",
		logger.SubscriptionID(sub.ID), slog.String("price_id", sub.PriceID))
	return "", "", nil
}

// upsertSubscription converges on a single row per external subscription id.
// Lookup first, then insert, then a second lookup when a concurrent delivery
// won the insert race.
func (r *Reconciler) upsertSubscription(ctx context.Context, sub *entitlement.Subscription) error {
	existing, err := r.store.GetSubscriptionByExternalID(ctx, sub.ExternalSubscriptionID)
	if err == nil {
		sub.ID = existing.ID
		return r.store.UpdateSubscription(ctx, sub)
	}
	if !errors.Is(err, entitlement.ErrSubscriptionNotFound) {
		return err
	}

	if _, err := r.store.CreateSubscription(ctx, sub); err != nil {
		if !errors.Is(err, entitlement.ErrSubscriptionAlreadyExists) {
			return err
		}
		existing, gerr := r.store.GetSubscriptionByExternalID(ctx, sub.ExternalSubscriptionID)
		if gerr != nil {
			return gerr
		}
		sub.ID = existing.ID
		return r.store.UpdateSubscription(ctx, sub)
	}
	return nil
}

func planFromMetadata(m payments.Metadata) (plans.Plan, plans.Period, bool) {
	plan, period := plans.Plan(m.Plan), plans.Period(m.Period)
	if plan.Valid() && period.Valid() {
		return plan, period, true
	}
	return "", "", false
}

// mapProviderStatus folds the provider's status vocabulary into the local
// one. Anything not explicitly terminal or delinquent counts as active.
func mapProviderStatus(status string) entitlement.Status {
	switch status {
	case "canceled", "cancelled":
		return entitlement.StatusCancelled
	case "past_due", "unpaid":
		return entitlement.StatusPastDue
	default:
		return entitlement.StatusActive
	}
}

func addPeriod(start time.Time, period plans.Period) time.Time {
	switch period {
	case plans.PeriodYearly:
		return start.AddDate(1, 0, 0)
	case plans.PeriodOneTime:
		return entitlement.LifetimeEndDate
	default:
		return start.AddDate(0, 1, 0)
	}
}
