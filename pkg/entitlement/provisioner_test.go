package entitlement_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brickrecipes/billing/pkg/backoff"
	"github.com/brickrecipes/billing/pkg/entitlement"
)

type mockIdentity struct {
	mock.Mock
}

func (m *mockIdentity) FindUserIDByEmail(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *mockIdentity) CreateUser(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func TestCreateUserIfAbsentReturnsExisting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemStore()
	require.NoError(t, store.CreateUser(ctx, entitlement.NewUser("user-1", "a@example.com")))

	p := entitlement.NewProvisioner(store)
	id, created, err := p.CreateUserIfAbsent(ctx, "user-1", "a@example.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "user-1", id)
}

func TestCreateUserIfAbsentDirectInsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemStore()

	p := entitlement.NewProvisioner(store)
	id, created, err := p.CreateUserIfAbsent(ctx, "user-1", "a@example.com")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "user-1", id)

	got, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
}

func TestCreateUserIfAbsentPrefersEmailMatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemStore()
	require.NoError(t, store.CreateUser(ctx, entitlement.NewUser("canonical-id", "a@example.com")))

	p := entitlement.NewProvisioner(store)
	id, created, err := p.CreateUserIfAbsent(ctx, "stale-id", "a@example.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "canonical-id", id, "pre-existing account found by email wins over the caller-supplied id")
}

func TestCreateUserIfAbsentConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemStore()
	p := entitlement.NewProvisioner(store)

	const callers = 16
	results := make([]bool, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := p.CreateUserIfAbsent(ctx, "user-1", "a@example.com")
			assert.NoError(t, err)
			results[i] = created
		}()
	}
	wg.Wait()

	createdCount := 0
	for _, created := range results {
		if created {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount, "exactly one caller observes created=true")
}

func TestCreateUserIfAbsentViaIdentityTrigger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemStore()

	idp := new(mockIdentity)
	idp.On("FindUserIDByEmail", mock.Anything, "a@example.com").
		Return("", entitlement.ErrIdentityUserNotFound)
	idp.On("CreateUser", mock.Anything, "a@example.com").
		Run(func(args mock.Arguments) {
			// Simulate the signup trigger creating the row shortly after.
			go func() {
				time.Sleep(10 * time.Millisecond)
				_ = store.CreateUser(context.Background(), entitlement.NewUser("idp-user", "a@example.com"))
			}()
		}).
		Return("idp-user", nil)

	p := entitlement.NewProvisioner(store,
		entitlement.WithIdentityProvider(idp),
		entitlement.WithPollAttempts(10),
		entitlement.WithPollBackoff(backoff.Fixed{Interval: 5 * time.Millisecond}),
	)

	id, created, err := p.CreateUserIfAbsent(ctx, "requested-id", "a@example.com")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "idp-user", id)
	idp.AssertExpectations(t)
}

func TestCreateUserIfAbsentIdentityRowNeverMaterializes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemStore()

	idp := new(mockIdentity)
	idp.On("FindUserIDByEmail", mock.Anything, "a@example.com").
		Return("", entitlement.ErrIdentityUserNotFound)
	idp.On("CreateUser", mock.Anything, "a@example.com").Return("idp-user", nil)

	p := entitlement.NewProvisioner(store,
		entitlement.WithIdentityProvider(idp),
		entitlement.WithPollAttempts(3),
		entitlement.WithPollBackoff(backoff.Fixed{Interval: time.Millisecond}),
	)

	_, _, err := p.CreateUserIfAbsent(ctx, "requested-id", "a@example.com")
	assert.ErrorIs(t, err, entitlement.ErrProvisioningFailed)
}
