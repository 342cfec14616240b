package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/brickrecipes/billing/pkg/plans"
)

// Store is the capability wrapper around the durable record system holding
// users and subscriptions. Every write is atomic at the row level; there are
// no cross-row transactions, so callers must tolerate partial application and
// rely on idempotent retries to converge.
type Store interface {
	// GetUser returns a user by local id, or ErrUserNotFound.
	GetUser(ctx context.Context, id string) (*User, error)
	// GetUserByEmail returns a user by email, or ErrUserNotFound.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// GetUserByExternalCustomerID returns the user bound to a provider
	// customer id, or ErrUserNotFound.
	GetUserByExternalCustomerID(ctx context.Context, customerID string) (*User, error)
	// CreateUser inserts a new user row. Returns ErrUserAlreadyExists when a
	// row with the same id exists; safe to race from concurrent callers.
	CreateUser(ctx context.Context, user *User) error
	// SetCustomerID binds (or, with an empty value, clears) the provider
	// customer id on a user row.
	SetCustomerID(ctx context.Context, userID, customerID string) error
	// SetPlan changes the user's plan and rewrites the limit columns from the
	// plan catalog in the same row write.
	SetPlan(ctx context.Context, userID string, plan plans.Plan) error

	// GetActiveSubscription returns the user's subscription with
	// status=active, or ErrSubscriptionNotFound.
	GetActiveSubscription(ctx context.Context, userID string) (*Subscription, error)
	// GetSubscriptionByExternalID looks a subscription up by the provider's
	// identifier, or ErrSubscriptionNotFound. This is the idempotency lookup.
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	// CreateSubscription inserts a new subscription row and assigns its id.
	// Returns ErrSubscriptionAlreadyExists when the external id is taken.
	CreateSubscription(ctx context.Context, sub *Subscription) (*Subscription, error)
	// UpdateSubscription overwrites the mutable fields (plan, period, dates,
	// price id, status) of the row identified by sub.ID.
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	// SetSubscriptionStatus transitions only the status field.
	SetSubscriptionStatus(ctx context.Context, id uuid.UUID, status Status) error
	// ListDueSubscriptions returns active subscriptions whose end date has
	// passed as of now.
	ListDueSubscriptions(ctx context.Context, now time.Time) ([]Subscription, error)
	// ExpireSubscription conditionally marks a row expired. The condition
	// (still active, still past its end date) is evaluated as part of the
	// write, so a concurrent renewal that moved the end date forward wins.
	// Returns false when the condition no longer held.
	ExpireSubscription(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// GetUsage reads the counter/limit pair for one usage kind.
	GetUsage(ctx context.Context, userID string, kind UsageKind) (use, limit int, err error)
	// IncrementUsage atomically adds amount to a counter and returns the new
	// value. It does not enforce the limit.
	IncrementUsage(ctx context.Context, userID string, kind UsageKind, amount int) (int, error)
	// ResetAllUsage zeroes every user's monthly counters.
	ResetAllUsage(ctx context.Context) error
}
