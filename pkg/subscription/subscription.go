// Package subscription owns the subscription entity, its status state
// machine and the lifecycle service that performs every status write.
package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/pkg/billing"
	"github.com/fieldbill/fieldbill/pkg/identity"
)

const (
	// DefaultTrialDays is the trial length used when none is requested.
	DefaultTrialDays = 14

	// GracePeriodDays is the fixed system-wide grace period length.
	GracePeriodDays = 7

	// MaxCancelReasonLen caps stored cancellation reasons.
	MaxCancelReasonLen = 500
)

// Subscription grants a mobile user time-boxed access under a tenant.
// Exactly one row exists per (tenant, user) pair. Rows are never hard
// deleted; deactivation is a status, not a deletion.
type Subscription struct {
	ID           uuid.UUID         `json:"id"`
	TenantID     uuid.UUID         `json:"tenant_id"`
	UserID       uuid.UUID         `json:"user_id"`
	UserClass    identity.UserType `json:"user_class"`
	Status       Status            `json:"status"`
	BillingCycle billing.Cycle     `json:"billing_cycle"`

	// CurrentPeriodEnd is the authoritative expiry of the paid window.
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	GracePeriodEndsAt  *time.Time `json:"grace_period_ends_at,omitempty"`
	GraceReason        string     `json:"grace_reason,omitempty"`

	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	AutoRenew         bool       `json:"auto_renew"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	CancelReason      string     `json:"cancel_reason,omitempty"`
	SuspendedAt       *time.Time `json:"suspended_at,omitempty"`
	SuspendReason     string     `json:"suspend_reason,omitempty"`

	// Usage counters for the current period.
	DataDownloaded int64     `json:"data_downloaded"`
	APICallsCount  int64     `json:"api_calls_count"`
	LastUsageReset time.Time `json:"last_usage_reset"`

	LastPaymentID *uuid.UUID `json:"last_payment_id,omitempty"`

	// PlanTier is a legacy back-reference retained for compatibility;
	// it never drives pricing.
	PlanTier string `json:"plan_tier,omitempty"`

	// EndDate mirrors CurrentPeriodEnd for legacy readers. Stores keep it
	// synchronized on every save.
	EndDate time.Time `json:"end_date"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveEndDate returns the authoritative expiry, falling back to the
// legacy EndDate for rows written before CurrentPeriodEnd existed.
func (s *Subscription) EffectiveEndDate() time.Time {
	if !s.CurrentPeriodEnd.IsZero() {
		return s.CurrentPeriodEnd
	}
	return s.EndDate
}

// IsInGracePeriod reports whether the subscription is in a still-open grace
// window at the given time.
func (s *Subscription) IsInGracePeriod(now time.Time) bool {
	return s.Status == StatusGracePeriod && s.GracePeriodEndsAt != nil && s.GracePeriodEndsAt.After(now)
}

// RemainingDays returns whole days until the effective end date, never
// negative.
func (s *Subscription) RemainingDays(now time.Time) int {
	remaining := s.EffectiveEndDate().Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Hours() / 24)
}

// resetUsage zeroes the period counters.
func (s *Subscription) resetUsage(now time.Time) {
	s.DataDownloaded = 0
	s.APICallsCount = 0
	s.LastUsageReset = now
}
