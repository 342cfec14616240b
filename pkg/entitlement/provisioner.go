package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brickrecipes/billing/pkg/backoff"
	"github.com/brickrecipes/billing/pkg/logger"
)

// IdentityProvider is the external account system that owns signups. Some
// deployments create the local user row through a signup trigger on this
// system rather than allowing direct inserts.
type IdentityProvider interface {
	// FindUserIDByEmail returns the identity-side user id for an email, or
	// ErrIdentityUserNotFound.
	FindUserIDByEmail(ctx context.Context, email string) (string, error)
	// CreateUser registers a new identity account and returns its id. The
	// signup trigger is expected to create the local user row shortly after.
	CreateUser(ctx context.Context, email string) (string, error)
}

// Provisioner implements create-user-if-absent semantics on top of the store
// and, optionally, the identity provider.
//
// Without an identity provider it inserts the row directly; the store's
// unique key guarantees exactly one concurrent caller observes created=true.
// With one, it triggers identity signup and polls for the row to materialize,
// since the row is owned by the signup trigger in that mode.
type Provisioner struct {
	store    Store
	identity IdentityProvider
	attempts int
	strategy backoff.Strategy
	log      *slog.Logger
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithIdentityProvider enables trigger-based provisioning through the given
// identity provider.
func WithIdentityProvider(idp IdentityProvider) ProvisionerOption {
	return func(p *Provisioner) { p.identity = idp }
}

// WithPollAttempts bounds how many times the provisioner polls for a
// trigger-created row before giving up.
func WithPollAttempts(attempts int) ProvisionerOption {
	return func(p *Provisioner) {
		if attempts > 0 {
			p.attempts = attempts
		}
	}
}

// WithPollBackoff sets the delay strategy between polls.
func WithPollBackoff(strategy backoff.Strategy) ProvisionerOption {
	return func(p *Provisioner) {
		if strategy != nil {
			p.strategy = strategy
		}
	}
}

// WithLogger sets the provisioner's logger.
func WithLogger(log *slog.Logger) ProvisionerOption {
	return func(p *Provisioner) {
		if log != nil {
			p.log = log
		}
	}
}

// NewProvisioner returns a Provisioner. Panics on a nil store to fail fast
// during initialization.
func NewProvisioner(store Store, opts ...ProvisionerOption) *Provisioner {
	if store == nil {
		panic("entitlement: store is required")
	}
	p := &Provisioner{
		store:    store,
		attempts: 5,
		strategy: backoff.Fixed{Interval: 2 * time.Second},
		log:      logger.Noop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateUserIfAbsent ensures a user row exists for the given id/email pair.
// It returns the canonical user id (which can differ from the requested one
// when the identity provider already had an account for the email under
// another key) and whether this call created the row.
func (p *Provisioner) CreateUserIfAbsent(ctx context.Context, userID, email string) (string, bool, error) {
	if _, err := p.store.GetUser(ctx, userID); err == nil {
		return userID, false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return "", false, err
	}

	if p.identity == nil {
		return p.createDirect(ctx, userID, email)
	}
	return p.createViaIdentity(ctx, userID, email)
}

func (p *Provisioner) createDirect(ctx context.Context, userID, email string) (string, bool, error) {
	// A pre-existing account may be reachable only by email when the caller
	// holds a stale or foreign id for the same person.
	if existing, err := p.store.GetUserByEmail(ctx, email); err == nil {
		return existing.ID, false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return "", false, err
	}

	err := p.store.CreateUser(ctx, NewUser(userID, email))
	if errors.Is(err, ErrUserAlreadyExists) {
		// Lost the race to a concurrent caller; the row exists now.
		return userID, false, nil
	}
	if err != nil {
		return "", false, err
	}

	p.log.InfoContext(ctx, "created user record", logger.UserID(userID))
	return userID, true, nil
}

func (p *Provisioner) createViaIdentity(ctx context.Context, userID, email string) (string, bool, error) {
	canonicalID, err := p.identity.FindUserIDByEmail(ctx, email)
	switch {
	case err == nil:
		// Identity account exists; the local row may simply not have
		// materialized yet, or may live under the identity's id.
		if canonicalID != userID {
			p.log.InfoContext(ctx, "identity account found under different id",
				logger.UserID(userID), slog.String("canonical_user_id", canonicalID))
		}
	case errors.Is(err, ErrIdentityUserNotFound):
		canonicalID, err = p.identity.CreateUser(ctx, email)
		if err != nil {
			return "", false, err
		}
		p.log.InfoContext(ctx, "identity account created", logger.UserID(canonicalID))
	default:
		return "", false, err
	}

	// The signup trigger creates the row asynchronously; poll with bounded
	// backoff instead of assuming it is immediately visible.
	pollErr := backoff.Retry(ctx, p.attempts, p.strategy, func(ctx context.Context) error {
		_, err := p.store.GetUser(ctx, canonicalID)
		return err
	})
	if pollErr != nil {
		return "", false, errors.Join(ErrProvisioningFailed, pollErr)
	}
	return canonicalID, true, nil
}
