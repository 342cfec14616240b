package entitlement

import "errors"

var (
	ErrUserNotFound      = errors.New("entitlement: user not found")
	ErrUserAlreadyExists = errors.New("entitlement: user already exists")

	ErrSubscriptionNotFound      = errors.New("entitlement: subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("entitlement: subscription already exists")

	ErrInvalidUsageKind = errors.New("entitlement: invalid usage kind")

	ErrIdentityUserNotFound = errors.New("entitlement: identity provider has no user for email")
	ErrProvisioningFailed   = errors.New("entitlement: user record did not materialize after identity signup")
)
