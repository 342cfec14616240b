package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/brickrecipes/billing/pkg/entitlement"
	"github.com/brickrecipes/billing/pkg/logger"
	"github.com/brickrecipes/billing/pkg/payments"
)

// CustomerResolver maps a local user to a verified provider customer,
// creating whichever side is missing. It is the shared front half of every
// checkout flow: by the time a session is created, the user row exists and
// carries a customer id that the provider actually recognizes.
type CustomerResolver struct {
	store       entitlement.Store
	provider    payments.Provider
	provisioner *entitlement.Provisioner
	log         *slog.Logger
}

// NewCustomerResolver returns a CustomerResolver. Panics on nil dependencies
// to fail fast during initialization; a nil logger falls back to a no-op one.
func NewCustomerResolver(store entitlement.Store, provider payments.Provider, provisioner *entitlement.Provisioner, log *slog.Logger) *CustomerResolver {
	if store == nil {
		panic("billing: store is required")
	}
	if provider == nil {
		panic("billing: payment provider is required")
	}
	if provisioner == nil {
		panic("billing: provisioner is required")
	}
	if log == nil {
		log = logger.Noop()
	}
	return &CustomerResolver{
		store:       store,
		provider:    provider,
		provisioner: provisioner,
		log:         log,
	}
}

// Resolve returns a provider customer id for the user, plus the canonical
// local user id, which can differ from the requested one when provisioning
// found the account under another key.
//
// A stored customer id is verified against the provider before reuse; ids
// pointing at deleted customers are cleared and replaced rather than handed
// to a checkout session that would fail downstream.
func (r *CustomerResolver) Resolve(ctx context.Context, userID, email string) (customerID, resolvedUserID string, err error) {
	user, err := r.store.GetUser(ctx, userID)
	if errors.Is(err, entitlement.ErrUserNotFound) {
		resolvedID, created, perr := r.provisioner.CreateUserIfAbsent(ctx, userID, email)
		if perr != nil {
			return "", "", errors.Join(ErrCustomerResolutionFailed, perr)
		}
		if created {
			r.log.InfoContext(ctx, "provisioned user during customer resolution", logger.UserID(resolvedID))
		}
		user, err = r.store.GetUser(ctx, resolvedID)
	}
	if err != nil {
		return "", "", err
	}

	if user.ExternalCustomerID != "" {
		_, verr := r.provider.GetCustomer(ctx, user.ExternalCustomerID)
		switch {
		case verr == nil:
			return user.ExternalCustomerID, user.ID, nil
		case errors.Is(verr, payments.ErrCustomerNotFound):
			// The stored id points at a customer deleted on the provider
			// side. Clear it and create a fresh one below.
			r.log.WarnContext(ctx, "stored customer id no longer exists at provider, recreating",
				logger.UserID(user.ID), logger.CustomerID(user.ExternalCustomerID))
			if cerr := r.store.SetCustomerID(ctx, user.ID, ""); cerr != nil {
				return "", "", cerr
			}
		default:
			return "", "", verr
		}
	}

	cust, err := r.provider.CreateCustomer(ctx, user.Email, user.ID)
	if err != nil {
		return "", "", errors.Join(ErrCustomerResolutionFailed, err)
	}
	if err := r.store.SetCustomerID(ctx, user.ID, cust.ID); err != nil {
		return "", "", err
	}

	r.log.InfoContext(ctx, "created provider customer",
		logger.UserID(user.ID), logger.CustomerID(cust.ID))
	return cust.ID, user.ID, nil
}
