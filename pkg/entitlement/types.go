package entitlement

import (
	"time"

	"github.com/google/uuid"

	"github.com/brickrecipes/billing/pkg/plans"
)

// Status represents the local state of a subscription row.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusPastDue   Status = "past_due"
)

// UsageKind selects which monthly counter an operation targets.
type UsageKind string

const (
	UsageBrick UsageKind = "brick"
	UsageVideo UsageKind = "video"
)

// Valid reports whether the kind is a known counter.
func (k UsageKind) Valid() bool {
	return k == UsageBrick || k == UsageVideo
}

// LifetimeEndDate is the sentinel far-future end date stored for one-time
// lifetime purchases, which never expire.
var LifetimeEndDate = time.Date(2099, time.December, 31, 0, 0, 0, 0, time.UTC)

// User is the local entitlement record. Usage counters are embedded and reset
// in place rather than kept as an append-only ledger.
type User struct {
	ID                 string
	Email              string
	Plan               plans.Plan
	MonthlyBrickLimit  int
	MonthlyBrickUse    int
	MonthlyVideoLimit  int
	MonthlyVideoUse    int
	ExternalCustomerID string // provider customer id; empty until a payment flow binds one
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewUser returns a user record on the free plan with catalog-derived limits.
func NewUser(id, email string) *User {
	limits := plans.LimitsFor(plans.PlanFree)
	now := time.Now().UTC()
	return &User{
		ID:                id,
		Email:             email,
		Plan:              plans.PlanFree,
		MonthlyBrickLimit: limits.Brick,
		MonthlyVideoLimit: limits.Video,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Subscription mirrors one provider subscription (or one-time purchase
// session). ExternalSubscriptionID is the idempotency key: reconciliation
// looks rows up by it before ever creating a new one.
type Subscription struct {
	ID                     uuid.UUID
	UserID                 string
	Plan                   plans.Plan
	Period                 plans.Period
	StartDate              time.Time
	EndDate                time.Time
	ExternalSubscriptionID string
	ExternalPriceID        string
	Status                 Status
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsActive reports whether the row is in the active state.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsDue reports whether an active subscription's end date has passed.
func (s *Subscription) IsDue(now time.Time) bool {
	return s.Status == StatusActive && s.EndDate.Before(now)
}
