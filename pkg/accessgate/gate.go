// Package accessgate decides, per request, whether a mobile user's
// subscription currently grants access, mapping every denial to a distinct
// client-actionable code.
package accessgate

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/subscription"
	"github.com/fieldbill/fieldbill/pkg/usage"
)

// DenialReason is a stable code a denied client can act on. One opaque
// "forbidden" would leave the app unable to route the user to the right
// screen.
type DenialReason string

const (
	DenialExpired   DenialReason = "subscription_expired"
	DenialSuspended DenialReason = "subscription_suspended"
	DenialCancelled DenialReason = "subscription_cancelled"
	DenialPastDue   DenialReason = "subscription_past_due"
	DenialInactive  DenialReason = "subscription_inactive"
)

// Denial carries the reason and whatever context helps the client render
// it.
type Denial struct {
	Reason DenialReason `json:"reason"`

	// Expired context.
	RemainingDays *int       `json:"remaining_days,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`

	// Cancelled context.
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// GraceWarning annotates an allowed request made during the grace window.
type GraceWarning struct {
	GracePeriodEnd      time.Time `json:"grace_period_end"`
	DaysUntilSuspension int       `json:"days_until_suspension"`
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Allowed      bool
	Bypass       bool // super-admin, no subscription consulted
	Subscription *subscription.Subscription
	Denial       *Denial
	GraceWarning *GraceWarning

	// UsageWarning is set on allowed decisions when a metered counter has
	// crossed the warning threshold. Requires a catalog.
	UsageWarning *usage.Alert
}

// Gate evaluates subscription access.
type Gate struct {
	subs    subscription.Store
	catalog *usage.Catalog
	log     *slog.Logger
	now     func() time.Time
}

// Option configures the Gate.
type Option func(*Gate)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// WithCatalog enables usage-approaching-limit warnings on allowed
// decisions, resolved against the same limit catalog the tracker enforces.
func WithCatalog(c *usage.Catalog) Option {
	return func(g *Gate) {
		g.catalog = c
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates a Gate over the subscription store.
func New(subs subscription.Store, opts ...Option) *Gate {
	if subs == nil {
		panic("accessgate: subscription store is required")
	}
	g := &Gate{
		subs: subs,
		log:  slog.Default(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check evaluates access for a caller. Super-admins bypass entirely. A
// missing subscription surfaces as subscription.ErrNotFound for everyone
// else.
func (g *Gate) Check(ctx context.Context, caller identity.Identity) (*Decision, error) {
	if caller.IsSuperAdmin() {
		return &Decision{Allowed: true, Bypass: true}, nil
	}
	return g.CheckUser(ctx, caller.TenantID, caller.UserID)
}

// CheckUser evaluates access for an explicit (tenant, user) pair.
func (g *Gate) CheckUser(ctx context.Context, tenantID, userID uuid.UUID) (*Decision, error) {
	sub, err := g.subs.GetByTenantUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	d := &Decision{Subscription: sub}

	switch {
	case sub.Status == subscription.StatusActive, sub.Status == subscription.StatusTrial:
		d.Allowed = true
	case sub.IsInGracePeriod(now):
		d.Allowed = true
		days := int(sub.GracePeriodEndsAt.Sub(now).Hours() / 24)
		d.GraceWarning = &GraceWarning{
			GracePeriodEnd:      *sub.GracePeriodEndsAt,
			DaysUntilSuspension: days,
		}
	default:
		d.Denial = denialFor(sub, now)
		g.log.InfoContext(ctx, "access denied",
			"tenant_id", tenantID, "user_id", userID,
			"status", sub.Status, "reason", d.Denial.Reason)
	}

	if d.Allowed && g.catalog != nil {
		d.UsageWarning = usageWarningFor(sub, g.catalog)
	}
	return d, nil
}

// usageWarningFor reports the counter closest to its ceiling once it has
// crossed the warning threshold, nil below it.
func usageWarningFor(sub *subscription.Subscription, catalog *usage.Catalog) *usage.Alert {
	limits := catalog.LimitsFor(sub.UserClass)

	var top *usage.Alert
	for _, t := range []usage.LimitType{usage.LimitDataDownload, usage.LimitAPICall} {
		limit := limits.For(t)
		if limit <= 0 {
			continue
		}
		current := sub.DataDownloaded
		if t == usage.LimitAPICall {
			current = sub.APICallsCount
		}
		pct := int(current * 100 / limit)
		if pct < usage.WarningThreshold {
			continue
		}
		a := &usage.Alert{
			LimitType:  t,
			Level:      usage.LevelFor(pct),
			Percentage: pct,
			Current:    current,
			Limit:      limit,
			Remaining:  max(limit-current, 0),
		}
		if top == nil || a.Percentage > top.Percentage {
			top = a
		}
	}
	return top
}

func denialFor(sub *subscription.Subscription, now time.Time) *Denial {
	switch sub.Status {
	case subscription.StatusExpired:
		remaining := sub.RemainingDays(now)
		end := sub.EffectiveEndDate()
		return &Denial{Reason: DenialExpired, RemainingDays: &remaining, EndDate: &end}
	case subscription.StatusSuspended:
		return &Denial{Reason: DenialSuspended}
	case subscription.StatusCancelled:
		return &Denial{Reason: DenialCancelled, CancelledAt: sub.CancelledAt}
	case subscription.StatusPastDue:
		return &Denial{Reason: DenialPastDue}
	case subscription.StatusGracePeriod:
		// Grace window already closed but the sweep has not flipped the
		// status yet.
		return &Denial{Reason: DenialPastDue}
	default:
		return &Denial{Reason: DenialInactive}
	}
}
