package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines payment persistence. Transaction references are unique
// across all tenants; the implementation's uniqueness constraint is the
// final backstop against a check-then-insert race.
type Store interface {
	// Create inserts a new payment.
	// Returns ErrDuplicateTransaction when the transaction reference exists.
	Create(ctx context.Context, p *Payment) error

	// GetByID retrieves a payment by its ID.
	// Returns ErrNotFound if no payment exists.
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)

	// TransactionExists reports whether any payment, in any tenant, carries
	// the transaction reference.
	TransactionExists(ctx context.Context, transactionID string) (bool, error)

	// Update persists all mutable fields of the payment.
	Update(ctx context.Context, p *Payment) error

	// UpdateFromPending persists the payment only while its stored status is
	// still pending. The conditional write is the idempotency guard for
	// review decisions: of two concurrent reviewers, exactly one wins.
	// Returns ErrAlreadyProcessed when the payment left pending in the
	// meantime, ErrNotFound when it does not exist.
	UpdateFromPending(ctx context.Context, p *Payment) error

	// ListByTenantUser returns a user's payments, newest first.
	ListByTenantUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*Payment, error)

	// ListRetryDue returns approved payments whose subscription mutation is
	// still outstanding and whose next retry instant has passed.
	ListRetryDue(ctx context.Context, now time.Time) ([]*Payment, error)

	// ListScreenshotPurgeDue returns payments whose screenshot retention has
	// lapsed and whose screenshot is still present.
	ListScreenshotPurgeDue(ctx context.Context, now time.Time) ([]*Payment, error)
}

// InvoiceSequence hands out per-calendar-month monotonically increasing
// invoice sequence numbers, shared across tenants.
type InvoiceSequence interface {
	// Next returns the next sequence number for the given year and month.
	Next(ctx context.Context, year int, month time.Month) (int64, error)
}
