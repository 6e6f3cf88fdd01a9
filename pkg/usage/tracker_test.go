package usage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbill/fieldbill/pkg/billing"
	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/subscription"
	"github.com/fieldbill/fieldbill/pkg/usage"
)

func limitedCatalog(t *testing.T) *usage.Catalog {
	t.Helper()
	c, err := usage.ParseCatalog(catalogYAML(t))
	require.NoError(t, err)
	return c
}

func newTrackedSub(t *testing.T, class identity.UserType) (*subscription.Subscription, subscription.Store) {
	t.Helper()
	s := subscription.NewInMemoryStore()
	sub := &subscription.Subscription{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		UserID:       uuid.New(),
		UserClass:    class,
		Status:       subscription.StatusActive,
		BillingCycle: billing.CycleMonthly,
	}
	require.NoError(t, s.Create(context.Background(), sub))
	return sub, s
}

func TestTrackDownload(t *testing.T) {
	t.Parallel()

	t.Run("increments counter and appends event", func(t *testing.T) {
		t.Parallel()

		sub, store := newTrackedSub(t, identity.UserTypeRepoAgent)
		history := usage.NewInMemoryHistory()
		tr := usage.NewTracker(store, history, limitedCatalog(t))

		res, err := tr.TrackDownload(context.Background(), sub, 25, "/api/v1/repos/export")
		require.NoError(t, err)

		assert.EqualValues(t, 25, res.Subscription.DataDownloaded)
		assert.Nil(t, res.Alert)

		events, err := history.ListBySubscription(context.Background(), sub.ID, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, usage.EventDownload, events[0].Type)
		assert.EqualValues(t, 25, events[0].RecordCount)
		assert.Equal(t, "/api/v1/repos/export", events[0].Endpoint)
	})

	t.Run("refuses increment past the limit", func(t *testing.T) {
		t.Parallel()

		// repo_agent download limit is 100 in the test catalog.
		sub, store := newTrackedSub(t, identity.UserTypeRepoAgent)
		history := usage.NewInMemoryHistory()
		tr := usage.NewTracker(store, history, limitedCatalog(t))

		_, err := tr.TrackDownload(context.Background(), sub, 90, "/export")
		require.NoError(t, err)

		reloaded, err := store.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		_, err = tr.TrackDownload(context.Background(), reloaded, 20, "/export")
		assert.ErrorIs(t, err, usage.ErrLimitExceeded)

		// Counter unchanged, limit_exceeded event recorded.
		reloaded, err = store.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 90, reloaded.DataDownloaded)

		events, err := history.ListBySubscription(context.Background(), sub.ID, 10)
		require.NoError(t, err)
		var exceeded *usage.Event
		for _, e := range events {
			if e.Type == usage.EventLimitExceeded {
				exceeded = e
			}
		}
		require.NotNil(t, exceeded)
		assert.EqualValues(t, 20, exceeded.Requested)
		assert.EqualValues(t, 100, exceeded.Limit)
		assert.EqualValues(t, 90, exceeded.Current)
	})

	t.Run("alert levels at thresholds", func(t *testing.T) {
		t.Parallel()

		sub, store := newTrackedSub(t, identity.UserTypeRepoAgent)
		history := usage.NewInMemoryHistory()
		tr := usage.NewTracker(store, history, limitedCatalog(t))

		res, err := tr.TrackDownload(context.Background(), sub, 80, "/export")
		require.NoError(t, err)
		require.NotNil(t, res.Alert)
		assert.Equal(t, usage.AlertWarning, res.Alert.Level)
		assert.Equal(t, 80, res.Alert.Percentage)
		assert.EqualValues(t, 20, res.Alert.Remaining)

		res, err = tr.TrackDownload(context.Background(), res.Subscription, 10, "/export")
		require.NoError(t, err)
		require.NotNil(t, res.Alert)
		assert.Equal(t, usage.AlertCritical, res.Alert.Level)

		res, err = tr.TrackDownload(context.Background(), res.Subscription, 10, "/export")
		require.NoError(t, err)
		require.NotNil(t, res.Alert)
		assert.Equal(t, usage.AlertExceeded, res.Alert.Level)
		assert.Equal(t, 100, res.Alert.Percentage)

		var alerts int
		events, err := history.ListBySubscription(context.Background(), sub.ID, 20)
		require.NoError(t, err)
		for _, e := range events {
			if e.Type == usage.EventAlert {
				alerts++
			}
		}
		assert.Equal(t, 3, alerts)
	})

	t.Run("unlimited class never alerts or refuses", func(t *testing.T) {
		t.Parallel()

		sub, store := newTrackedSub(t, identity.UserTypeOfficeStaff)
		tr := usage.NewTracker(store, usage.NewInMemoryHistory(), limitedCatalog(t))

		res, err := tr.TrackDownload(context.Background(), sub, 1_000_000, "/export")
		require.NoError(t, err)
		assert.Nil(t, res.Alert)
	})

	t.Run("concurrent downloads never lose updates", func(t *testing.T) {
		t.Parallel()

		sub, store := newTrackedSub(t, identity.UserTypeOfficeStaff)
		tr := usage.NewTracker(store, usage.NewInMemoryHistory(), limitedCatalog(t))

		const workers = 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := tr.TrackDownload(context.Background(), sub, 5, "/export")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		reloaded, err := store.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.EqualValues(t, workers*5, reloaded.DataDownloaded)
	})
}

func TestTrackAPICall(t *testing.T) {
	t.Parallel()

	sub, store := newTrackedSub(t, identity.UserTypeRepoAgent)
	history := usage.NewInMemoryHistory()
	tr := usage.NewTracker(store, history, limitedCatalog(t))

	res, err := tr.TrackAPICall(context.Background(), sub, "/api/v1/repos")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Subscription.APICallsCount)

	events, err := history.ListBySubscription(context.Background(), sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, usage.EventAPICall, events[0].Type)
	assert.Equal(t, "/api/v1/repos", events[0].Endpoint)
}

func TestCheckLimit(t *testing.T) {
	t.Parallel()

	t.Run("unlimited sentinel always allows", func(t *testing.T) {
		t.Parallel()

		sub, store := newTrackedSub(t, identity.UserTypeOfficeStaff)
		tr := usage.NewTracker(store, usage.NewInMemoryHistory(), limitedCatalog(t))

		for _, requested := range []int64{0, 1, 1 << 40} {
			res, err := tr.CheckLimit(context.Background(), sub, usage.LimitDataDownload, requested)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.EqualValues(t, usage.Unlimited, res.Limit)
			assert.EqualValues(t, usage.Unlimited, res.Remaining)
		}
	})

	t.Run("read-only, no counter change", func(t *testing.T) {
		t.Parallel()

		sub, store := newTrackedSub(t, identity.UserTypeRepoAgent)
		tr := usage.NewTracker(store, usage.NewInMemoryHistory(), limitedCatalog(t))

		res, err := tr.CheckLimit(context.Background(), sub, usage.LimitDataDownload, 50)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.EqualValues(t, 100, res.Limit)
		assert.EqualValues(t, 0, res.Current)
		assert.EqualValues(t, 100, res.Remaining)

		reloaded, err := store.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Zero(t, reloaded.DataDownloaded)
	})

	t.Run("requested amount over remaining denied", func(t *testing.T) {
		t.Parallel()

		sub, store := newTrackedSub(t, identity.UserTypeRepoAgent)
		tr := usage.NewTracker(store, usage.NewInMemoryHistory(), limitedCatalog(t))

		_, err := tr.TrackDownload(context.Background(), sub, 70, "/export")
		require.NoError(t, err)

		reloaded, err := store.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		res, err := tr.CheckLimit(context.Background(), reloaded, usage.LimitDataDownload, 31)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.EqualValues(t, 30, res.Remaining)
	})

	t.Run("unknown limit type", func(t *testing.T) {
		t.Parallel()

		sub, store := newTrackedSub(t, identity.UserTypeRepoAgent)
		tr := usage.NewTracker(store, usage.NewInMemoryHistory(), limitedCatalog(t))

		_, err := tr.CheckLimit(context.Background(), sub, usage.LimitType("storage"), 1)
		assert.ErrorIs(t, err, usage.ErrUnknownLimitType)
	})
}

func TestResetUsage(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	sub, store := newTrackedSub(t, identity.UserTypeOfficeStaff)
	history := usage.NewInMemoryHistory()
	tr := usage.NewTracker(store, history, limitedCatalog(t), usage.WithClock(func() time.Time { return now }))

	_, err := tr.TrackDownload(context.Background(), sub, 40, "/export")
	require.NoError(t, err)
	_, err = tr.TrackAPICall(context.Background(), sub, "/repos")
	require.NoError(t, err)

	reset, err := tr.ResetUsage(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.Zero(t, reset.DataDownloaded)
	assert.Zero(t, reset.APICallsCount)
	assert.Equal(t, now, reset.LastUsageReset)

	events, err := history.ListBySubscription(context.Background(), sub.ID, 10)
	require.NoError(t, err)
	var resetEv *usage.Event
	for _, e := range events {
		if e.Type == usage.EventReset {
			resetEv = e
		}
	}
	require.NotNil(t, resetEv)
	require.NotNil(t, resetEv.PrevDataDownloaded)
	require.NotNil(t, resetEv.PrevAPICalls)
	assert.EqualValues(t, 40, *resetEv.PrevDataDownloaded)
	assert.EqualValues(t, 1, *resetEv.PrevAPICalls)
}
