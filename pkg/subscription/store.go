package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines subscription persistence. One row per (tenant, user) pair,
// enforced by the implementation.
type Store interface {
	// Create inserts a new subscription.
	// Returns ErrAlreadyExists if the (tenant, user) pair already has one.
	Create(ctx context.Context, sub *Subscription) error

	// GetByID retrieves a subscription by its ID.
	// Returns ErrNotFound if no subscription exists.
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// GetByTenantUser retrieves the subscription for a (tenant, user) pair.
	// Returns ErrNotFound if no subscription exists.
	GetByTenantUser(ctx context.Context, tenantID, userID uuid.UUID) (*Subscription, error)

	// Update persists all mutable fields of the subscription.
	Update(ctx context.Context, sub *Subscription) error

	// UpdateGuarded persists the subscription only if the stored
	// CurrentPeriodEnd still equals expectedPeriodEnd. Returns
	// ErrConcurrentUpdate when the guard fails. This is the
	// compare-and-swap backstop against double-extending races.
	UpdateGuarded(ctx context.Context, sub *Subscription, expectedPeriodEnd time.Time) error

	// AddUsage atomically increments the usage counters so concurrent
	// tracking never loses updates.
	AddUsage(ctx context.Context, id uuid.UUID, dataDownloaded, apiCalls int64) (*Subscription, error)

	// ListCancellationsDue returns subscriptions flagged cancel-at-period-end
	// whose period end has passed.
	ListCancellationsDue(ctx context.Context, now time.Time) ([]*Subscription, error)

	// ListGraceLapsed returns grace-period subscriptions whose grace window
	// has closed.
	ListGraceLapsed(ctx context.Context, now time.Time) ([]*Subscription, error)
}

// Locker serializes operations on a single subscription across writers.
// Production wiring uses a redsync distributed mutex; tests use the
// in-process implementation below.
type Locker interface {
	// Acquire takes the mutex for key, returning a release function.
	Acquire(ctx context.Context, key string) (func(), error)
}
