package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brickrecipes/billing/pkg/plans"
)

var ErrStoreFailure = errors.New("entitlement: store query failed")

// uniqueViolation is the Postgres error code for unique constraint conflicts.
const uniqueViolation = "23505"

// PgStore implements Store on a Postgres pool. All writes are single-row
// statements; the expiry path folds its condition into the UPDATE itself.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by the given connection pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const userColumns = `id, email, plan, monthly_brick_limit, monthly_brick_use,
	monthly_video_limit, monthly_video_use, COALESCE(external_customer_id, ''),
	created_at, updated_at`

func (s *PgStore) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Plan, &u.MonthlyBrickLimit, &u.MonthlyBrickUse,
		&u.MonthlyVideoLimit, &u.MonthlyVideoUse, &u.ExternalCustomerID,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return &u, nil
}

func (s *PgStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PgStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *PgStore) GetUserByExternalCustomerID(ctx context.Context, customerID string) (*User, error) {
	if customerID == "" {
		return nil, ErrUserNotFound
	}
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_customer_id = $1`, customerID))
}

func (s *PgStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, plan, monthly_brick_limit, monthly_brick_use,
			monthly_video_limit, monthly_video_use, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		user.ID, user.Email, user.Plan, user.MonthlyBrickLimit, user.MonthlyBrickUse,
		user.MonthlyVideoLimit, user.MonthlyVideoUse)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUserAlreadyExists
		}
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func (s *PgStore) SetCustomerID(ctx context.Context, userID, customerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET external_customer_id = NULLIF($2, ''), updated_at = now() WHERE id = $1`,
		userID, customerID)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PgStore) SetPlan(ctx context.Context, userID string, plan plans.Plan) error {
	limits := plans.LimitsFor(plan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET plan = $2, monthly_brick_limit = $3, monthly_video_limit = $4,
			updated_at = now()
		 WHERE id = $1`,
		userID, plan, limits.Brick, limits.Video)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

const subscriptionColumns = `id, user_id, plan, period, start_date, end_date,
	COALESCE(external_subscription_id, ''), COALESCE(external_price_id, ''),
	status, created_at, updated_at`

func (s *PgStore) scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Plan, &sub.Period, &sub.StartDate, &sub.EndDate,
		&sub.ExternalSubscriptionID, &sub.ExternalPriceID, &sub.Status,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return &sub, nil
}

func (s *PgStore) GetActiveSubscription(ctx context.Context, userID string) (*Subscription, error) {
	return s.scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC LIMIT 1`, userID, StatusActive))
}

func (s *PgStore) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	if externalID == "" {
		return nil, ErrSubscriptionNotFound
	}
	return s.scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE external_subscription_id = $1`, externalID))
}

func (s *PgStore) CreateSubscription(ctx context.Context, sub *Subscription) (*Subscription, error) {
	clone := *sub
	if clone.ID == uuid.Nil {
		clone.ID = uuid.New()
	}
	now := time.Now().UTC()
	clone.CreatedAt = now
	clone.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (id, user_id, plan, period, start_date, end_date,
			external_subscription_id, external_price_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $10)`,
		clone.ID, clone.UserID, clone.Plan, clone.Period, clone.StartDate, clone.EndDate,
		clone.ExternalSubscriptionID, clone.ExternalPriceID, clone.Status, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrSubscriptionAlreadyExists
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return &clone, nil
}

func (s *PgStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET plan = $2, period = $3, start_date = $4, end_date = $5,
			external_price_id = NULLIF($6, ''), status = $7, updated_at = now()
		 WHERE id = $1`,
		sub.ID, sub.Plan, sub.Period, sub.StartDate, sub.EndDate, sub.ExternalPriceID, sub.Status)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PgStore) SetSubscriptionStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PgStore) ListDueSubscriptions(ctx context.Context, now time.Time) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = $1 AND end_date < $2`, StatusActive, now)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	defer rows.Close()

	var due []Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return due, nil
}

func (s *PgStore) ExpireSubscription(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	// The status and end-date predicates run inside the UPDATE so a renewal
	// landing between the sweep's read and this write keeps the row active.
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = $3 AND end_date < $4`,
		id, StatusExpired, StatusActive, now)
	if err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgStore) GetUsage(ctx context.Context, userID string, kind UsageKind) (int, int, error) {
	if !kind.Valid() {
		return 0, 0, ErrInvalidUsageKind
	}

	column := "brick"
	if kind == UsageVideo {
		column = "video"
	}
	var use, limit int
	err := s.pool.QueryRow(ctx,
		`SELECT monthly_`+column+`_use, monthly_`+column+`_limit FROM users WHERE id = $1`,
		userID).Scan(&use, &limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, errors.Join(ErrStoreFailure, err)
	}
	return use, limit, nil
}

func (s *PgStore) IncrementUsage(ctx context.Context, userID string, kind UsageKind, amount int) (int, error) {
	if !kind.Valid() {
		return 0, ErrInvalidUsageKind
	}

	column := "monthly_brick_use"
	if kind == UsageVideo {
		column = "monthly_video_use"
	}
	var newUsage int
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET `+column+` = `+column+` + $2, updated_at = now()
		 WHERE id = $1 RETURNING `+column,
		userID, amount).Scan(&newUsage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, errors.Join(ErrStoreFailure, err)
	}
	return newUsage, nil
}

func (s *PgStore) ResetAllUsage(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET monthly_brick_use = 0, monthly_video_use = 0, updated_at = now()`)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}
