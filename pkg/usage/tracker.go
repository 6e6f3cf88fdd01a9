package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/pkg/subscription"
)

// Tracker meters usage against the limit catalog. Counter increments happen
// atomically at the storage layer so concurrent downloads never lose
// updates.
type Tracker struct {
	subs    subscription.Store
	history HistoryStore
	catalog *Catalog
	log     *slog.Logger
	now     func() time.Time
}

// TrackerOption configures the Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a usage tracker.
func NewTracker(subs subscription.Store, history HistoryStore, catalog *Catalog, opts ...TrackerOption) *Tracker {
	if subs == nil || history == nil {
		panic("usage: subscription store and history store are required")
	}
	if catalog == nil {
		catalog = UnlimitedCatalog()
	}
	t := &Tracker{
		subs:    subs,
		history: history,
		catalog: catalog,
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TrackResult is the outcome of a successful tracking call. Alert is set
// whenever the counter sits at or above the warning threshold, for response
// metadata.
type TrackResult struct {
	Subscription *subscription.Subscription
	Alert        *Alert
}

// TrackDownload records a data download of recordCount records. Refuses
// with ErrLimitExceeded, and logs a limit_exceeded event, when the
// increment would pass the ceiling.
func (t *Tracker) TrackDownload(ctx context.Context, sub *subscription.Subscription, recordCount int64, endpoint string) (*TrackResult, error) {
	if recordCount <= 0 {
		return nil, fmt.Errorf("%w: record count must be positive", ErrInvalidEvent)
	}
	return t.track(ctx, sub, LimitDataDownload, recordCount, endpoint)
}

// TrackAPICall records a single API call.
func (t *Tracker) TrackAPICall(ctx context.Context, sub *subscription.Subscription, endpoint string) (*TrackResult, error) {
	return t.track(ctx, sub, LimitAPICall, 1, endpoint)
}

func (t *Tracker) track(ctx context.Context, sub *subscription.Subscription, limitType LimitType, amount int64, endpoint string) (*TrackResult, error) {
	limit := t.catalog.LimitsFor(sub.UserClass).For(limitType)
	current := counterFor(sub, limitType)

	if limit != Unlimited && current+amount > limit {
		exceeded := &Event{
			ID:             uuid.New(),
			TenantID:       sub.TenantID,
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			Type:           EventLimitExceeded,
			OccurredAt:     t.now(),
			LimitType:      limitType,
			Requested:      amount,
			Limit:          limit,
			Current:        current,
		}
		if err := t.history.Append(ctx, exceeded); err != nil {
			t.log.ErrorContext(ctx, "failed to record limit_exceeded event", "subscription_id", sub.ID, "error", err)
		}
		return nil, fmt.Errorf("%w: %s requested %d, limit %d, current %d",
			ErrLimitExceeded, limitType, amount, limit, current)
	}

	var (
		updated *subscription.Subscription
		err     error
	)
	if limitType == LimitDataDownload {
		updated, err = t.subs.AddUsage(ctx, sub.ID, amount, 0)
	} else {
		updated, err = t.subs.AddUsage(ctx, sub.ID, 0, amount)
	}
	if err != nil {
		return nil, err
	}

	ev := &Event{
		ID:             uuid.New(),
		TenantID:       updated.TenantID,
		SubscriptionID: updated.ID,
		UserID:         updated.UserID,
		OccurredAt:     t.now(),
		Endpoint:       endpoint,
	}
	if limitType == LimitDataDownload {
		ev.Type = EventDownload
		ev.RecordCount = amount
	} else {
		ev.Type = EventAPICall
	}
	if err := t.history.Append(ctx, ev); err != nil {
		return nil, err
	}

	res := &TrackResult{Subscription: updated}
	if limit != Unlimited && limit > 0 {
		newCurrent := counterFor(updated, limitType)
		newPct := int(newCurrent * 100 / limit)
		prevPct := int(current * 100 / limit)
		if level := LevelFor(newPct); level != "" {
			res.Alert = &Alert{
				LimitType:  limitType,
				Level:      level,
				Percentage: newPct,
				Current:    newCurrent,
				Limit:      limit,
				Remaining:  limit - newCurrent,
			}
			// Only a threshold crossing writes an alert event; staying
			// above one does not re-log on every call.
			if LevelFor(prevPct) != level {
				alert := &Event{
					ID:             uuid.New(),
					TenantID:       updated.TenantID,
					SubscriptionID: updated.ID,
					UserID:         updated.UserID,
					Type:           EventAlert,
					OccurredAt:     t.now(),
					LimitType:      limitType,
					Level:          level,
					Percentage:     newPct,
					Current:        newCurrent,
					Limit:          limit,
				}
				if err := t.history.Append(ctx, alert); err != nil {
					t.log.ErrorContext(ctx, "failed to record alert event", "subscription_id", updated.ID, "error", err)
				}
			}
		}
	}
	return res, nil
}

// CheckLimit is a read-only pre-flight check, distinct from tracking.
// A limit of -1 always short-circuits to allowed.
func (t *Tracker) CheckLimit(ctx context.Context, sub *subscription.Subscription, limitType LimitType, requested int64) (CheckResult, error) {
	if !limitType.Valid() {
		return CheckResult{}, fmt.Errorf("%w: %q", ErrUnknownLimitType, limitType)
	}

	limit := t.catalog.LimitsFor(sub.UserClass).For(limitType)
	current := counterFor(sub, limitType)

	if limit == Unlimited {
		return CheckResult{Allowed: true, Limit: Unlimited, Current: current, Remaining: Unlimited}, nil
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return CheckResult{
		Allowed:   current+requested <= limit,
		Limit:     limit,
		Current:   current,
		Remaining: remaining,
	}, nil
}

// ResetUsage zeroes both counters, stamps the reset instant and logs a
// reset event carrying the prior values for audit.
func (t *Tracker) ResetUsage(ctx context.Context, subscriptionID uuid.UUID) (*subscription.Subscription, error) {
	sub, err := t.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	prevDownloads := sub.DataDownloaded
	prevCalls := sub.APICallsCount

	now := t.now()
	sub.DataDownloaded = 0
	sub.APICallsCount = 0
	sub.LastUsageReset = now
	sub.UpdatedAt = now
	if err := t.subs.Update(ctx, sub); err != nil {
		return nil, err
	}

	ev := &Event{
		ID:                 uuid.New(),
		TenantID:           sub.TenantID,
		SubscriptionID:     sub.ID,
		UserID:             sub.UserID,
		Type:               EventReset,
		OccurredAt:         now,
		PrevDataDownloaded: &prevDownloads,
		PrevAPICalls:       &prevCalls,
	}
	if err := t.history.Append(ctx, ev); err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			return nil, err
		}
		t.log.ErrorContext(ctx, "failed to record reset event", "subscription_id", sub.ID, "error", err)
	}
	return sub, nil
}

// History returns a subscription's recent usage events, newest first.
func (t *Tracker) History(ctx context.Context, subscriptionID uuid.UUID, limit int64) ([]*Event, error) {
	return t.history.ListBySubscription(ctx, subscriptionID, limit)
}

func counterFor(sub *subscription.Subscription, limitType LimitType) int64 {
	if limitType == LimitDataDownload {
		return sub.DataDownloaded
	}
	return sub.APICallsCount
}
