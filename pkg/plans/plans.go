package plans

// Plan identifies the entitlement tier a user is on.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanPremium  Plan = "premium"
	PlanLifetime Plan = "lifetime"
)

// Valid reports whether the plan is one of the known tiers.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPremium, PlanLifetime:
		return true
	}
	return false
}

// Paid reports whether the plan is purchasable through the payment provider.
func (p Plan) Paid() bool {
	return p == PlanPremium || p == PlanLifetime
}

// Period is the billing cadence of a subscription.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
	PeriodOneTime Period = "one_time_purchase"
)

// Valid reports whether the period is one of the known cadences.
func (p Period) Valid() bool {
	switch p {
	case PeriodMonthly, PeriodYearly, PeriodOneTime:
		return true
	}
	return false
}

// Unlimited marks a usage limit with no cap (-1 chosen for SQL compatibility).
const Unlimited = -1

// Limits holds the monthly usage caps derived from a plan.
type Limits struct {
	Brick int
	Video int
}

// Price describes the provider-side price attached to a (plan, period) pair.
type Price struct {
	ID       string // provider price identifier (price_xxx)
	Amount   int64  // smallest currency unit
	Currency string // ISO 4217
}

// LimitsFor returns the usage caps for a plan. Unknown plans fall back to
// the free tier so a corrupted plan value never grants extra quota.
func LimitsFor(plan Plan) Limits {
	switch plan {
	case PlanPremium:
		return Limits{Brick: Unlimited, Video: 100}
	case PlanLifetime:
		return Limits{Brick: Unlimited, Video: Unlimited}
	default:
		return Limits{Brick: 3, Video: 3}
	}
}
