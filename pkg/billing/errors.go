package billing

import "errors"

var (
	// Validation errors: rejected synchronously, never retried.
	ErrInvalidPlan  = errors.New("billing: unknown plan/period combination")
	ErrMissingField = errors.New("billing: missing required field")

	ErrCustomerResolutionFailed = errors.New("billing: failed to resolve provider customer")
	ErrNoCustomerForUser        = errors.New("billing: user has no provider customer")
)
