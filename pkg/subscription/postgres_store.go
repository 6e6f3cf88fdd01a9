package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldbill/fieldbill/pkg/pg"
)

// PostgresStore implements Store over a pgx connection pool. Pair uniqueness
// comes from a unique index on (tenant_id, user_id); guarded updates use the
// stored current_period_end as the compare-and-swap token.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const subscriptionColumns = `
	id, tenant_id, user_id, user_class, status, billing_cycle,
	current_period_start, current_period_end, trial_ends_at,
	grace_period_ends_at, grace_reason,
	cancel_at_period_end, auto_renew, cancelled_at, cancel_reason,
	suspended_at, suspend_reason,
	data_downloaded, api_calls_count, last_usage_reset,
	last_payment_id, plan_tier, end_date, created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(
		&s.ID, &s.TenantID, &s.UserID, &s.UserClass, &s.Status, &s.BillingCycle,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.TrialEndsAt,
		&s.GracePeriodEndsAt, &s.GraceReason,
		&s.CancelAtPeriodEnd, &s.AutoRenew, &s.CancelledAt, &s.CancelReason,
		&s.SuspendedAt, &s.SuspendReason,
		&s.DataDownloaded, &s.APICallsCount, &s.LastUsageReset,
		&s.LastPaymentID, &s.PlanTier, &s.EndDate, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &s, nil
}

func (s *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	syncLegacy(sub)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		sub.ID, sub.TenantID, sub.UserID, sub.UserClass, sub.Status, sub.BillingCycle,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndsAt,
		sub.GracePeriodEndsAt, sub.GraceReason,
		sub.CancelAtPeriodEnd, sub.AutoRenew, sub.CancelledAt, sub.CancelReason,
		sub.SuspendedAt, sub.SuspendReason,
		sub.DataDownloaded, sub.APICallsCount, sub.LastUsageReset,
		sub.LastPaymentID, sub.PlanTier, sub.EndDate, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (s *PostgresStore) GetByTenantUser(ctx context.Context, tenantID, userID uuid.UUID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID)
	return scanSubscription(row)
}

const updateSet = `
	user_class = $2, status = $3, billing_cycle = $4,
	current_period_start = $5, current_period_end = $6, trial_ends_at = $7,
	grace_period_ends_at = $8, grace_reason = $9,
	cancel_at_period_end = $10, auto_renew = $11, cancelled_at = $12, cancel_reason = $13,
	suspended_at = $14, suspend_reason = $15,
	data_downloaded = $16, api_calls_count = $17, last_usage_reset = $18,
	last_payment_id = $19, plan_tier = $20, end_date = $21, updated_at = $22`

func updateArgs(sub *Subscription) []any {
	return []any{
		sub.ID,
		sub.UserClass, sub.Status, sub.BillingCycle,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndsAt,
		sub.GracePeriodEndsAt, sub.GraceReason,
		sub.CancelAtPeriodEnd, sub.AutoRenew, sub.CancelledAt, sub.CancelReason,
		sub.SuspendedAt, sub.SuspendReason,
		sub.DataDownloaded, sub.APICallsCount, sub.LastUsageReset,
		sub.LastPaymentID, sub.PlanTier, sub.EndDate, sub.UpdatedAt,
	}
}

func (s *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	syncLegacy(sub)
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET `+updateSet+` WHERE id = $1`, updateArgs(sub)...)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateGuarded(ctx context.Context, sub *Subscription, expectedPeriodEnd time.Time) error {
	syncLegacy(sub)
	args := append(updateArgs(sub), expectedPeriodEnd)
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET `+updateSet+` WHERE id = $1 AND current_period_end = $23`, args...)
	if err != nil {
		return fmt.Errorf("guarded update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, sub.ID).Scan(&exists); err != nil {
			return fmt.Errorf("guarded update subscription: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConcurrentUpdate
	}
	return nil
}

func (s *PostgresStore) AddUsage(ctx context.Context, id uuid.UUID, dataDownloaded, apiCalls int64) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE subscriptions
		SET data_downloaded = data_downloaded + $2,
		    api_calls_count = api_calls_count + $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		id, dataDownloaded, apiCalls)
	return scanSubscription(row)
}

func (s *PostgresStore) ListCancellationsDue(ctx context.Context, now time.Time) ([]*Subscription, error) {
	return s.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE cancel_at_period_end AND status <> $1 AND current_period_end <= $2`,
		StatusCancelled, now)
}

func (s *PostgresStore) ListGraceLapsed(ctx context.Context, now time.Time) ([]*Subscription, error) {
	return s.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = $1 AND grace_period_ends_at IS NOT NULL AND grace_period_ends_at <= $2`,
		StatusGracePeriod, now)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return out, nil
}
