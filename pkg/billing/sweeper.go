package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brickrecipes/billing/pkg/entitlement"
	"github.com/brickrecipes/billing/pkg/logger"
	"github.com/brickrecipes/billing/pkg/plans"
)

// Sweeper expires active subscriptions whose end date has passed, catching
// the renewals the provider never confirmed. It is the safety net behind the
// webhook path and assumes nothing about delivery ordering: the expiry write
// is conditional, so a renewal landing mid-sweep wins.
type Sweeper struct {
	store entitlement.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewSweeper returns a Sweeper. Panics on a nil store; a nil logger falls
// back to a no-op one.
func NewSweeper(store entitlement.Store, log *slog.Logger) *Sweeper {
	if store == nil {
		panic("billing: store is required")
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Sweeper{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Sweep expires every due subscription one at a time, downgrading the owner
// to the free plan. Per-row failures are collected rather than aborting the
// pass, so one poisoned row cannot shield the rest of the backlog.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDueSubscriptions(ctx, now)
	if err != nil {
		return 0, err
	}

	var (
		expired int
		errs    error
	)
	for _, sub := range due {
		applied, err := s.store.ExpireSubscription(ctx, sub.ID, now)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to expire subscription",
				logger.UserID(sub.UserID), logger.Error(err))
			errs = errors.Join(errs, err)
			continue
		}
		if !applied {
			// Renewed between the listing and the write.
			s.log.InfoContext(ctx, "subscription renewed mid-sweep, skipped",
				logger.UserID(sub.UserID))
			continue
		}

		if err := s.store.SetPlan(ctx, sub.UserID, plans.PlanFree); err != nil {
			s.log.ErrorContext(ctx, "failed to downgrade user after expiry",
				logger.UserID(sub.UserID), logger.Error(err))
			errs = errors.Join(errs, err)
			continue
		}

		expired++
		s.log.InfoContext(ctx, "subscription expired",
			logger.UserID(sub.UserID), logger.Plan(sub.Plan))
	}

	s.log.InfoContext(ctx, "expiration sweep finished",
		slog.Int("due", len(due)), slog.Int("expired", expired))
	return expired, errs
}
