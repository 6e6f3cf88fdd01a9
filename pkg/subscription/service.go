package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/pkg/billing"
	"github.com/fieldbill/fieldbill/pkg/identity"
)

// Service performs every lifecycle mutation on subscriptions. All
// read-modify-write sequences run under a per-subscription lock, with a
// guarded (compare-and-swap) save as backstop where a race would extend a
// period twice.
type Service struct {
	store  Store
	locker Locker
	log    *slog.Logger
	now    func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLocker sets the per-subscription locker. Defaults to an in-process
// keyed mutex; multi-replica deployments must pass the distributed one.
func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a lifecycle service over the given store.
func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		panic("subscription: store is required")
	}
	s := &Service{
		store:  store,
		locker: NewKeyedMutex(),
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func lockKey(id uuid.UUID) string {
	return "subscription:lock:" + id.String()
}

// CreateParams describes a new subscription.
type CreateParams struct {
	TenantID  uuid.UUID
	UserID    uuid.UUID
	UserClass identity.UserType
	Cycle     billing.Cycle
	Start     *time.Time
	Trial     bool
	TrialDays int // defaults to DefaultTrialDays when Trial is set
	PlanTier  string
}

// Create provisions a subscription for a (tenant, user) pair. Fails with
// ErrAlreadyExists when the pair already has one.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Subscription, error) {
	if p.TenantID == uuid.Nil || p.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant and user IDs are required", ErrValidation)
	}
	if !p.Cycle.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrValidation, billing.ErrUnknownCycle)
	}
	if p.UserClass == "" {
		p.UserClass = identity.UserTypeOther
	}

	if _, err := s.store.GetByTenantUser(ctx, p.TenantID, p.UserID); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now()
	start := now
	if p.Start != nil {
		start = p.Start.UTC()
	}
	end, err := billing.NextPeriodEnd(start, p.Cycle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	sub := &Subscription{
		ID:                 uuid.New(),
		TenantID:           p.TenantID,
		UserID:             p.UserID,
		UserClass:          p.UserClass,
		Status:             StatusActive,
		BillingCycle:       p.Cycle,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		AutoRenew:          true,
		PlanTier:           p.PlanTier,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	sub.resetUsage(now)

	if p.Trial {
		days := p.TrialDays
		if days <= 0 {
			days = DefaultTrialDays
		}
		trialEnd := start.Add(time.Duration(days) * 24 * time.Hour)
		sub.Status = StatusTrial
		sub.TrialEndsAt = &trialEnd
	}

	if err := s.store.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID, "user_id", sub.UserID, "status", sub.Status, "period_end", sub.CurrentPeriodEnd)
	return sub, nil
}

// RenewParams tunes a renewal.
type RenewParams struct {
	// NewCycle switches the billing cycle for the new period; nil keeps the
	// current one.
	NewCycle *billing.Cycle
}

// Renew extends a subscription by one billing cycle. The new period starts
// at the OLD period end, not now: a late admin approval must never shorten
// the window the user paid for. Only active and grace-period subscriptions
// renew; a grace-period one flips back to active.
func (s *Service) Renew(ctx context.Context, id uuid.UUID, p RenewParams) (*Subscription, error) {
	release, err := s.locker.Acquire(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if sub.Status != StatusActive && sub.Status != StatusGracePeriod {
		return nil, fmt.Errorf("%w: renew requires active or grace_period, got %q", ErrInvalidState, sub.Status)
	}

	cycle := sub.BillingCycle
	if p.NewCycle != nil {
		if !p.NewCycle.Valid() {
			return nil, fmt.Errorf("%w: %v", ErrValidation, billing.ErrUnknownCycle)
		}
		cycle = *p.NewCycle
	}

	oldEnd := sub.CurrentPeriodEnd
	newEnd, err := billing.NextPeriodEnd(oldEnd, cycle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := s.now()
	if sub.Status == StatusGracePeriod {
		if err := CanTransition(sub.Status, StatusActive); err != nil {
			return nil, err
		}
		sub.Status = StatusActive
	}
	sub.GracePeriodEndsAt = nil
	sub.GraceReason = ""
	sub.BillingCycle = cycle
	sub.CurrentPeriodStart = oldEnd
	sub.CurrentPeriodEnd = newEnd
	sub.resetUsage(now)
	sub.UpdatedAt = now

	if err := s.store.UpdateGuarded(ctx, sub, oldEnd); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription renewed",
		"subscription_id", sub.ID, "cycle", cycle, "period_end", sub.CurrentPeriodEnd)
	return sub, nil
}

// ReactivateParams tunes a reactivation.
type ReactivateParams struct {
	// Start re-bases the new period; nil means now. Unlike renew,
	// reactivation starts fresh rather than extending the lapsed period.
	Start *time.Time
}

// Reactivate returns a cancelled, expired or suspended subscription to
// active with a fresh period.
func (s *Service) Reactivate(ctx context.Context, id uuid.UUID, cycle billing.Cycle, p ReactivateParams) (*Subscription, error) {
	if !cycle.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrValidation, billing.ErrUnknownCycle)
	}

	release, err := s.locker.Acquire(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sub.Status {
	case StatusCancelled, StatusExpired, StatusSuspended:
	default:
		return nil, fmt.Errorf("%w: reactivate requires cancelled, expired or suspended, got %q", ErrInvalidState, sub.Status)
	}
	if err := CanTransition(sub.Status, StatusActive); err != nil {
		return nil, err
	}

	now := s.now()
	start := now
	if p.Start != nil {
		start = p.Start.UTC()
	}
	end, err := billing.NextPeriodEnd(start, cycle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	sub.Status = StatusActive
	sub.BillingCycle = cycle
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = end
	sub.CancelAtPeriodEnd = false
	sub.CancelledAt = nil
	sub.CancelReason = ""
	sub.SuspendedAt = nil
	sub.SuspendReason = ""
	sub.GracePeriodEndsAt = nil
	sub.GraceReason = ""
	sub.AutoRenew = true
	sub.resetUsage(now)
	sub.UpdatedAt = now

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription reactivated",
		"subscription_id", sub.ID, "cycle", cycle, "period_end", sub.CurrentPeriodEnd)
	return sub, nil
}

// CancelParams tunes a cancellation.
type CancelParams struct {
	Reason    string
	Immediate bool
}

// Cancel ends a subscription. Immediate cancellation collapses the period to
// now; otherwise the subscription is flagged cancel-at-period-end and a
// scheduled sweep flips the status once the period lapses. Auto-renew is
// always disabled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, p CancelParams) (*Subscription, error) {
	release, err := s.locker.Acquire(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sub.Status {
	case StatusActive, StatusTrial, StatusGracePeriod:
	default:
		return nil, fmt.Errorf("%w: cancel requires active, trial or grace_period, got %q", ErrInvalidState, sub.Status)
	}

	reason := strings.TrimSpace(p.Reason)
	if len(reason) > MaxCancelReasonLen {
		reason = reason[:MaxCancelReasonLen]
	}

	now := s.now()
	if p.Immediate {
		if err := CanTransition(sub.Status, StatusCancelled); err != nil {
			return nil, err
		}
		sub.Status = StatusCancelled
		sub.CurrentPeriodEnd = now
		sub.EndDate = now
	} else {
		sub.CancelAtPeriodEnd = true
	}

	sub.AutoRenew = false
	sub.CancelledAt = &now
	sub.CancelReason = reason
	sub.UpdatedAt = now

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription cancelled",
		"subscription_id", sub.ID, "immediate", p.Immediate, "reason", reason)
	return sub, nil
}

// Suspend blocks a subscription for the given reason and disables
// auto-renew.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID, reason string) (*Subscription, error) {
	release, err := s.locker.Acquire(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sub.Status {
	case StatusActive, StatusGracePeriod, StatusPastDue:
	default:
		return nil, fmt.Errorf("%w: suspend requires active, grace_period or past_due, got %q", ErrInvalidState, sub.Status)
	}
	if err := CanTransition(sub.Status, StatusSuspended); err != nil {
		return nil, err
	}

	now := s.now()
	sub.Status = StatusSuspended
	sub.SuspendedAt = &now
	sub.SuspendReason = strings.TrimSpace(reason)
	sub.AutoRenew = false
	sub.UpdatedAt = now

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription suspended", "subscription_id", sub.ID, "reason", reason)
	return sub, nil
}

// ExtendTrial pushes the trial end out by extraDays, mirroring the new value
// onto the period end. Only valid while the subscription is trialing.
func (s *Service) ExtendTrial(ctx context.Context, id uuid.UUID, extraDays int) (*Subscription, error) {
	if extraDays <= 0 {
		return nil, fmt.Errorf("%w: extraDays must be positive", ErrValidation)
	}

	release, err := s.locker.Acquire(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if sub.Status != StatusTrial {
		return nil, fmt.Errorf("%w: extend trial requires trial, got %q", ErrInvalidState, sub.Status)
	}

	base := sub.CurrentPeriodEnd
	if sub.TrialEndsAt != nil {
		base = *sub.TrialEndsAt
	}
	newEnd := base.Add(time.Duration(extraDays) * 24 * time.Hour)

	sub.TrialEndsAt = &newEnd
	sub.CurrentPeriodEnd = newEnd
	sub.UpdatedAt = s.now()

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "trial extended", "subscription_id", sub.ID, "days", extraDays, "trial_end", newEnd)
	return sub, nil
}

// EnterGracePeriod opens the fixed-length grace window after a renewal
// failure, recording the failure reason.
func (s *Service) EnterGracePeriod(ctx context.Context, id uuid.UUID, failureReason string) (*Subscription, error) {
	release, err := s.locker.Acquire(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sub.Status {
	case StatusActive, StatusPastDue:
	default:
		return nil, fmt.Errorf("%w: grace period requires active or past_due, got %q", ErrInvalidState, sub.Status)
	}
	if err := CanTransition(sub.Status, StatusGracePeriod); err != nil {
		return nil, err
	}

	now := s.now()
	graceEnd := sub.CurrentPeriodEnd.Add(GracePeriodDays * 24 * time.Hour)
	sub.Status = StatusGracePeriod
	sub.GracePeriodEndsAt = &graceEnd
	sub.GraceReason = strings.TrimSpace(failureReason)
	sub.UpdatedAt = now

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription entered grace period",
		"subscription_id", sub.ID, "grace_end", graceEnd, "reason", failureReason)
	return sub, nil
}

// ProcessCancellationsDue flips cancel-at-period-end subscriptions whose
// period has lapsed. Called by the scheduled sweep.
func (s *Service) ProcessCancellationsDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListCancellationsDue(ctx, now)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, sub := range due {
		if err := CanTransition(sub.Status, StatusCancelled); err != nil {
			s.log.WarnContext(ctx, "skipping scheduled cancellation", "subscription_id", sub.ID, "error", err)
			continue
		}
		sub.Status = StatusCancelled
		sub.UpdatedAt = now
		if err := s.store.Update(ctx, sub); err != nil {
			s.log.ErrorContext(ctx, "failed to finalize scheduled cancellation", "subscription_id", sub.ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// ProcessGraceLapsed moves subscriptions whose grace window closed to
// past_due. Called by the scheduled sweep.
func (s *Service) ProcessGraceLapsed(ctx context.Context) (int, error) {
	now := s.now()
	lapsed, err := s.store.ListGraceLapsed(ctx, now)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, sub := range lapsed {
		if err := CanTransition(sub.Status, StatusPastDue); err != nil {
			s.log.WarnContext(ctx, "skipping grace expiry", "subscription_id", sub.ID, "error", err)
			continue
		}
		sub.Status = StatusPastDue
		sub.UpdatedAt = now
		if err := s.store.Update(ctx, sub); err != nil {
			s.log.ErrorContext(ctx, "failed to expire grace period", "subscription_id", sub.ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}
