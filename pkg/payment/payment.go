// Package payment implements manual payment-proof submission and the admin
// approval workflow that turns an approved proof into a subscription change.
package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/pkg/billing"
	"github.com/fieldbill/fieldbill/pkg/identity"
)

// Status is the review state of a payment proof.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Action is the subscription mutation an approval resolved to.
type Action string

const (
	ActionCreate     Action = "create"
	ActionRenew      Action = "renew"
	ActionReactivate Action = "reactivate"
)

const (
	// MinTransactionIDLen is the minimum accepted transaction reference length.
	MinTransactionIDLen = 6

	// ScreenshotRetention is how long a proof screenshot survives approval
	// before the purge sweep deletes it.
	ScreenshotRetention = 2 * 24 * time.Hour

	// RetryDelay is the wait before the reconcile sweep re-attempts a failed
	// post-approval subscription mutation.
	RetryDelay = 5 * time.Minute
)

// SubmitterSnapshot freezes the submitter's identity at submission time.
// Later deletion of the user record must not corrupt historical payments, so
// approval re-validation works off this copy plus a live lookup, never a
// join.
type SubmitterSnapshot struct {
	UserID   uuid.UUID         `json:"user_id"`
	Name     string            `json:"name,omitempty"`
	Phone    string            `json:"phone,omitempty"`
	Email    string            `json:"email,omitempty"`
	UserType identity.UserType `json:"user_type,omitempty"`
}

// Payment is a user-submitted claim of an out-of-band transfer, pending
// admin verification. Rows are append-mostly; the only mutation after
// submission is the single approval or rejection write.
type Payment struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`

	// Submitter is nil for rows written before identity snapshots existed.
	Submitter *SubmitterSnapshot `json:"submitter,omitempty"`

	PlanPeriod    billing.Cycle `json:"plan_period"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	TransactionID string        `json:"transaction_id"`
	Notes         string        `json:"notes,omitempty"`
	ScreenshotURL string        `json:"screenshot_url,omitempty"`

	// AmountValidated is false when the tenant had no configured price for
	// the requested plan period and the amount was accepted unchecked.
	AmountValidated bool `json:"amount_validated"`

	Status          Status     `json:"status"`
	ApprovedBy      *uuid.UUID `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovalNotes   string     `json:"approval_notes,omitempty"`
	RejectedBy      *uuid.UUID `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	// Action and the period fields mirror the subscription mutation the
	// approval performed, for invoicing and support lookups.
	Action      Action     `json:"action,omitempty"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`

	InvoiceNumber string     `json:"invoice_number,omitempty"`
	InvoicedAt    *time.Time `json:"invoiced_at,omitempty"`

	// Saga checkpoint: set when the post-approval subscription mutation
	// failed and the reconcile sweep still owes a re-attempt.
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	RetryReason string     `json:"retry_reason,omitempty"`

	ScreenshotDeleteAt *time.Time `json:"screenshot_delete_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NeedsReconcile reports whether the approval's subscription mutation is
// still outstanding.
func (p *Payment) NeedsReconcile() bool {
	return p.Status == StatusApproved && p.RetryReason != ""
}

// ValidTransactionID reports whether the reference is alphanumeric and long
// enough. No normalization is applied; the caller submits it as-is.
func ValidTransactionID(s string) bool {
	if len(s) < MinTransactionIDLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// AmountWithinTolerance reports whether a submitted amount is close enough
// to the tenant's expected price. The tolerance is the larger of 5 units and
// 2% of the expected amount.
func AmountWithinTolerance(submitted, expected int64) bool {
	tolerance := float64(expected) * 0.02
	if tolerance < 5 {
		tolerance = 5
	}
	diff := float64(submitted - expected)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
