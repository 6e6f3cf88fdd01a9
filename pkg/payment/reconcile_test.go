package payment_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/payment"
	"github.com/fieldbill/fieldbill/pkg/subscription"
)

func TestReconcile(t *testing.T) {
	t.Parallel()

	t.Run("resolves checkpoint once subscription can mutate", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub, err := f.subSvc.Create(context.Background(), subscription.CreateParams{
			TenantID: f.tenantID, UserID: f.userID,
			UserClass: identity.UserTypeRepoAgent, Cycle: "monthly", Trial: true,
		})
		require.NoError(t, err)

		pay := f.submit(t, validSubmit())
		res, err := f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
		require.NoError(t, err)
		require.True(t, res.Payment.NeedsReconcile())

		// Nothing due yet: the retry instant is five minutes out.
		n, err := f.svc.Reconcile(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)

		// Trial converted to active out of band; the retry can now renew.
		sub.Status = subscription.StatusActive
		require.NoError(t, f.subs.Update(context.Background(), sub))

		later := f.now.Add(10 * time.Minute)
		svc := payment.NewService(f.payments, payment.NewInMemoryInvoiceSequence(), f.subs, f.subSvc, f.dir, f.dir,
			payment.WithClock(func() time.Time { return later }))

		n, err = svc.Reconcile(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		reloaded, err := f.payments.GetByID(context.Background(), pay.ID)
		require.NoError(t, err)
		assert.False(t, reloaded.NeedsReconcile())
		assert.Empty(t, reloaded.RetryReason)
		assert.Nil(t, reloaded.NextRetryAt)
		require.NotNil(t, reloaded.PeriodEnd)
	})

	t.Run("failed attempt bumps counter and reschedules", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := f.subSvc.Create(context.Background(), subscription.CreateParams{
			TenantID: f.tenantID, UserID: f.userID,
			UserClass: identity.UserTypeRepoAgent, Cycle: "monthly", Trial: true,
		})
		require.NoError(t, err)

		pay := f.submit(t, validSubmit())
		_, err = f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
		require.NoError(t, err)

		later := f.now.Add(10 * time.Minute)
		svc := payment.NewService(f.payments, payment.NewInMemoryInvoiceSequence(), f.subs, f.subSvc, f.dir, f.dir,
			payment.WithClock(func() time.Time { return later }))

		// Still a trial, so the renew fails again.
		n, err := svc.Reconcile(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)

		reloaded, err := f.payments.GetByID(context.Background(), pay.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, reloaded.RetryCount)
		require.NotNil(t, reloaded.NextRetryAt)
		assert.Equal(t, later.Add(5*time.Minute), *reloaded.NextRetryAt)
		assert.True(t, reloaded.NeedsReconcile())
	})
}

type recordingRemover struct {
	removed []string
}

func (r *recordingRemover) Remove(ctx context.Context, url string) error {
	r.removed = append(r.removed, url)
	return nil
}

func TestPurgeScreenshots(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := validSubmit()
	p.ScreenshotURL = "https://files.example.com/proof/abc.png"
	pay := f.submit(t, p)
	_, err := f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
	require.NoError(t, err)

	remover := &recordingRemover{}

	// Retention has not lapsed yet.
	n, err := f.svc.PurgeScreenshots(context.Background(), remover)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, remover.removed)

	later := f.now.Add(3 * 24 * time.Hour)
	svc := payment.NewService(f.payments, payment.NewInMemoryInvoiceSequence(), f.subs, f.subSvc, f.dir, f.dir,
		payment.WithClock(func() time.Time { return later }))

	n, err = svc.PurgeScreenshots(context.Background(), remover)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"https://files.example.com/proof/abc.png"}, remover.removed)

	reloaded, err := f.payments.GetByID(context.Background(), pay.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.ScreenshotURL)
	assert.Nil(t, reloaded.ScreenshotDeleteAt)
}
