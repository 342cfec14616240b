package entitlement

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brickrecipes/billing/pkg/plans"
)

// MemStore is an in-memory Store implementation. It backs tests and local
// development; the concurrency semantics match the SQL store (row-level
// atomicity, no cross-row transactions).
type MemStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	subscriptions map[uuid.UUID]*Subscription
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:         make(map[string]*User),
		subscriptions: make(map[uuid.UUID]*Subscription),
	}
}

func (s *MemStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *MemStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			clone := *user
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemStore) GetUserByExternalCustomerID(ctx context.Context, customerID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if customerID == "" {
		return nil, ErrUserNotFound
	}
	for _, user := range s.users {
		if user.ExternalCustomerID == customerID {
			clone := *user
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemStore) CreateUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return ErrUserAlreadyExists
	}
	clone := *user
	now := time.Now().UTC()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.users[user.ID] = &clone
	return nil
}

func (s *MemStore) SetCustomerID(ctx context.Context, userID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.ExternalCustomerID = customerID
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) SetPlan(ctx context.Context, userID string, plan plans.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	limits := plans.LimitsFor(plan)
	user.Plan = plan
	user.MonthlyBrickLimit = limits.Brick
	user.MonthlyVideoLimit = limits.Video
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) GetActiveSubscription(ctx context.Context, userID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.UserID == userID && sub.Status == StatusActive {
			clone := *sub
			return &clone, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemStore) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if externalID == "" {
		return nil, ErrSubscriptionNotFound
	}
	for _, sub := range s.subscriptions {
		if sub.ExternalSubscriptionID == externalID {
			clone := *sub
			return &clone, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemStore) CreateSubscription(ctx context.Context, sub *Subscription) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ExternalSubscriptionID != "" {
		for _, existing := range s.subscriptions {
			if existing.ExternalSubscriptionID == sub.ExternalSubscriptionID {
				return nil, ErrSubscriptionAlreadyExists
			}
		}
	}

	clone := *sub
	if clone.ID == uuid.Nil {
		clone.ID = uuid.New()
	}
	now := time.Now().UTC()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	s.subscriptions[clone.ID] = &clone

	result := clone
	return &result, nil
}

func (s *MemStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	existing.Plan = sub.Plan
	existing.Period = sub.Period
	existing.StartDate = sub.StartDate
	existing.EndDate = sub.EndDate
	existing.ExternalPriceID = sub.ExternalPriceID
	existing.Status = sub.Status
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) SetSubscriptionStatus(ctx context.Context, id uuid.UUID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.Status = status
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) ListDueSubscriptions(ctx context.Context, now time.Time) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []Subscription
	for _, sub := range s.subscriptions {
		if sub.IsDue(now) {
			due = append(due, *sub)
		}
	}
	return due, nil
}

func (s *MemStore) ExpireSubscription(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return false, nil
	}
	// Re-evaluate the expiry condition at write time so a concurrent renewal
	// that pushed the end date forward is not clobbered.
	if !sub.IsDue(now) {
		return false, nil
	}
	sub.Status = StatusExpired
	sub.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemStore) GetUsage(ctx context.Context, userID string, kind UsageKind) (int, int, error) {
	if !kind.Valid() {
		return 0, 0, ErrInvalidUsageKind
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, 0, ErrUserNotFound
	}
	if kind == UsageBrick {
		return user.MonthlyBrickUse, user.MonthlyBrickLimit, nil
	}
	return user.MonthlyVideoUse, user.MonthlyVideoLimit, nil
}

func (s *MemStore) IncrementUsage(ctx context.Context, userID string, kind UsageKind, amount int) (int, error) {
	if !kind.Valid() {
		return 0, ErrInvalidUsageKind
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	user.UpdatedAt = time.Now().UTC()
	if kind == UsageBrick {
		user.MonthlyBrickUse += amount
		return user.MonthlyBrickUse, nil
	}
	user.MonthlyVideoUse += amount
	return user.MonthlyVideoUse, nil
}

func (s *MemStore) ResetAllUsage(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, user := range s.users {
		user.MonthlyBrickUse = 0
		user.MonthlyVideoUse = 0
		user.UpdatedAt = now
	}
	return nil
}
