// Package usage enforces the monthly generation quotas attached to a plan.
package usage

import (
	"context"
	"log/slog"

	"github.com/brickrecipes/billing/pkg/entitlement"
	"github.com/brickrecipes/billing/pkg/logger"
	"github.com/brickrecipes/billing/pkg/plans"
)

// Check is the answer to a quota question. Unlimited plans report
// Allowed=true regardless of the counter value.
type Check struct {
	Allowed   bool
	Current   int
	Limit     int
	Unlimited bool
}

// Stats aggregates both counters for one user, for account pages.
type Stats struct {
	Plan  plans.Plan
	Brick Check
	Video Check
}

// Limiter answers quota checks and advances counters. It is check-then-act
// by design: a burst of concurrent requests can slightly overshoot a limit,
// which is acceptable for generation quotas.
type Limiter struct {
	store entitlement.Store
	log   *slog.Logger
}

// NewLimiter returns a Limiter. Panics on a nil store.
func NewLimiter(store entitlement.Store, log *slog.Logger) *Limiter {
	if store == nil {
		panic("usage: store is required")
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Limiter{store: store, log: log}
}

// CheckLimit reports whether the user may perform one more action of the
// given kind.
func (l *Limiter) CheckLimit(ctx context.Context, userID string, kind entitlement.UsageKind) (Check, error) {
	if !kind.Valid() {
		return Check{}, entitlement.ErrInvalidUsageKind
	}
	use, limit, err := l.store.GetUsage(ctx, userID, kind)
	if err != nil {
		return Check{}, err
	}
	return newCheck(use, limit), nil
}

// Record counts amount completed actions of the given kind and returns the
// new counter value. An amount below one counts a single action. It does not
// enforce the limit; callers check first.
func (l *Limiter) Record(ctx context.Context, userID string, kind entitlement.UsageKind, amount int) (int, error) {
	if !kind.Valid() {
		return 0, entitlement.ErrInvalidUsageKind
	}
	if amount < 1 {
		amount = 1
	}
	return l.store.IncrementUsage(ctx, userID, kind, amount)
}

// Stats returns the user's plan and both quota states in one call.
func (l *Limiter) Stats(ctx context.Context, userID string) (Stats, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Plan:  user.Plan,
		Brick: newCheck(user.MonthlyBrickUse, user.MonthlyBrickLimit),
		Video: newCheck(user.MonthlyVideoUse, user.MonthlyVideoLimit),
	}, nil
}

// ResetAll zeroes every user's monthly counters. Runs once a month from the
// scheduler endpoint.
func (l *Limiter) ResetAll(ctx context.Context) error {
	if err := l.store.ResetAllUsage(ctx); err != nil {
		return err
	}
	l.log.InfoContext(ctx, "monthly usage counters reset")
	return nil
}

func newCheck(use, limit int) Check {
	if limit == plans.Unlimited {
		return Check{Allowed: true, Current: use, Limit: limit, Unlimited: true}
	}
	return Check{Allowed: use < limit, Current: use, Limit: limit}
}
