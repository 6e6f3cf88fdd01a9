package payment_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbill/fieldbill/pkg/billing"
	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/payment"
	"github.com/fieldbill/fieldbill/pkg/subscription"
	"github.com/fieldbill/fieldbill/pkg/tenant"
)

func TestApprove(t *testing.T) {
	t.Parallel()

	t.Run("creates subscription when none exists", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		pay := f.submit(t, validSubmit())

		res, err := f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{
			ApprovalNotes: "verified against bank statement",
		})
		require.NoError(t, err)

		assert.Equal(t, payment.ActionCreate, res.Action)
		require.NotNil(t, res.Subscription)
		assert.Equal(t, subscription.StatusActive, res.Subscription.Status)
		assert.Equal(t, f.now.Add(30*24*time.Hour), res.Subscription.CurrentPeriodEnd)
		assert.Equal(t, tenant.DefaultPlanTier, res.Subscription.PlanTier)

		assert.Equal(t, payment.StatusApproved, res.Payment.Status)
		require.NotNil(t, res.Payment.ApprovedBy)
		assert.Equal(t, f.admin.UserID, *res.Payment.ApprovedBy)
		assert.Equal(t, "verified against bank statement", res.Payment.ApprovalNotes)
		require.NotNil(t, res.Payment.PeriodEnd)
		assert.Equal(t, res.Subscription.CurrentPeriodEnd, *res.Payment.PeriodEnd)
		assert.Equal(t, "INV-2024-06-00001", res.Invoice)
		assert.Empty(t, res.Payment.RetryReason)

		stored, err := f.subs.GetByID(context.Background(), res.Subscription.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastPaymentID)
		assert.Equal(t, pay.ID, *stored.LastPaymentID)
	})

	t.Run("renews active subscription from old period end", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub, err := f.subSvc.Create(context.Background(), subscription.CreateParams{
			TenantID: f.tenantID, UserID: f.userID,
			UserClass: identity.UserTypeRepoAgent, Cycle: billing.CycleWeekly,
		})
		require.NoError(t, err)
		oldEnd := sub.CurrentPeriodEnd

		p := validSubmit()
		p.PlanPeriod = "weekly"
		p.Amount = 100
		pay := f.submit(t, p)

		res, err := f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
		require.NoError(t, err)

		assert.Equal(t, payment.ActionRenew, res.Action)
		assert.Equal(t, oldEnd.Add(7*24*time.Hour), res.Subscription.CurrentPeriodEnd)
	})

	t.Run("reactivates cancelled subscription from now", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub, err := f.subSvc.Create(context.Background(), subscription.CreateParams{
			TenantID: f.tenantID, UserID: f.userID,
			UserClass: identity.UserTypeRepoAgent, Cycle: billing.CycleMonthly,
		})
		require.NoError(t, err)
		_, err = f.subSvc.Cancel(context.Background(), sub.ID, subscription.CancelParams{Immediate: true})
		require.NoError(t, err)

		pay := f.submit(t, validSubmit())
		res, err := f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
		require.NoError(t, err)

		assert.Equal(t, payment.ActionReactivate, res.Action)
		assert.Equal(t, subscription.StatusActive, res.Subscription.Status)
		assert.Equal(t, f.now, res.Subscription.CurrentPeriodStart)
	})

	t.Run("concurrent approvals extend exactly once", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub, err := f.subSvc.Create(context.Background(), subscription.CreateParams{
			TenantID: f.tenantID, UserID: f.userID,
			UserClass: identity.UserTypeRepoAgent, Cycle: billing.CycleMonthly,
		})
		require.NoError(t, err)
		oldEnd := sub.CurrentPeriodEnd

		pay := f.submit(t, validSubmit())

		// Both reviewers read the payment while it is still pending; the
		// conditional claim write must let exactly one of them through.
		store := &rendezvousStore{InMemoryStore: f.payments}
		store.gate.Add(2)
		svc := payment.NewService(store, payment.NewInMemoryInvoiceSequence(), f.subs, f.subSvc, f.dir, f.dir,
			payment.WithClock(func() time.Time { return f.now }))

		errs := make(chan error, 2)
		for range 2 {
			go func() {
				_, err := svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
				errs <- err
			}()
		}

		rejectedRaces := 0
		for range 2 {
			if err := <-errs; err != nil {
				require.ErrorIs(t, err, payment.ErrAlreadyProcessed)
				rejectedRaces++
			}
		}
		assert.Equal(t, 1, rejectedRaces)

		renewed, err := f.subs.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, oldEnd.Add(30*24*time.Hour), renewed.CurrentPeriodEnd)

		stored, err := f.payments.GetByID(context.Background(), pay.ID)
		require.NoError(t, err)
		assert.Equal(t, "INV-2024-06-00001", stored.InvoiceNumber)
	})

	t.Run("already processed", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		pay := f.submit(t, validSubmit())
		_, err := f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
		require.NoError(t, err)

		_, err = f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
		assert.ErrorIs(t, err, payment.ErrAlreadyProcessed)
	})

	t.Run("submitter deactivated since submission", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		pay := f.submit(t, validSubmit())
		f.dir.AddUser(&tenant.User{
			ID: f.userID, TenantID: f.tenantID,
			UserType: identity.UserTypeRepoAgent, Active: false,
		})

		_, err := f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
		assert.ErrorIs(t, err, tenant.ErrUserInactive)
	})

	t.Run("legacy payment without snapshot needs explicit user", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		legacy := &payment.Payment{
			ID: uuid.New(), TenantID: f.tenantID,
			PlanPeriod: billing.CycleMonthly, Amount: 340,
			TransactionID: "LEGACY9999", Status: payment.StatusPending,
			CreatedAt: f.now, UpdatedAt: f.now,
		}
		require.NoError(t, f.payments.Create(context.Background(), legacy))

		_, err := f.svc.Approve(context.Background(), f.admin, legacy.ID, payment.ApproveParams{})
		assert.ErrorIs(t, err, payment.ErrValidation)

		res, err := f.svc.Approve(context.Background(), f.admin, legacy.ID, payment.ApproveParams{
			MobileUserID: &f.userID,
		})
		require.NoError(t, err)
		assert.Equal(t, payment.ActionCreate, res.Action)
	})

	t.Run("lifecycle failure still approves with retry checkpoint", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		// A trial subscription cannot renew, so the lifecycle step fails.
		_, err := f.subSvc.Create(context.Background(), subscription.CreateParams{
			TenantID: f.tenantID, UserID: f.userID,
			UserClass: identity.UserTypeRepoAgent, Cycle: billing.CycleMonthly, Trial: true,
		})
		require.NoError(t, err)

		pay := f.submit(t, validSubmit())
		res, err := f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
		require.NoError(t, err)

		assert.Equal(t, payment.StatusApproved, res.Payment.Status)
		assert.Nil(t, res.Subscription)
		assert.Zero(t, res.Payment.RetryCount)
		require.NotNil(t, res.Payment.NextRetryAt)
		assert.Equal(t, f.now.Add(5*time.Minute), *res.Payment.NextRetryAt)
		assert.NotEmpty(t, res.Payment.RetryReason)
		assert.True(t, res.Payment.NeedsReconcile())
		// Invoicing still happened.
		assert.NotEmpty(t, res.Invoice)
	})

	t.Run("invoice sequence failure is swallowed", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		now := f.now
		svc := payment.NewService(f.payments, failingSequence{}, f.subs, f.subSvc, f.dir, f.dir,
			payment.WithClock(func() time.Time { return now }))

		pay := f.submit(t, validSubmit())
		res, err := svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
		require.NoError(t, err)

		assert.Equal(t, payment.StatusApproved, res.Payment.Status)
		assert.Empty(t, res.Invoice)
		assert.Empty(t, res.Payment.InvoiceNumber)
	})

	t.Run("screenshot schedules deletion two days out", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		p := validSubmit()
		p.ScreenshotURL = "https://files.example.com/proof/abc.png"
		pay := f.submit(t, p)

		res, err := f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
		require.NoError(t, err)

		require.NotNil(t, res.Payment.ScreenshotDeleteAt)
		assert.Equal(t, f.now.Add(2*24*time.Hour), *res.Payment.ScreenshotDeleteAt)
	})

	t.Run("invoice sequence increments within the month", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		first := f.submit(t, validSubmit())
		res1, err := f.svc.Approve(context.Background(), f.admin, first.ID, payment.ApproveParams{})
		require.NoError(t, err)

		p := validSubmit()
		p.TransactionID = "XYZ98765"
		second := f.submit(t, p)
		res2, err := f.svc.Approve(context.Background(), f.admin, second.ID, payment.ApproveParams{})
		require.NoError(t, err)

		assert.Equal(t, "INV-2024-06-00001", res1.Invoice)
		assert.Equal(t, "INV-2024-06-00002", res2.Invoice)
	})
}

func TestReject(t *testing.T) {
	t.Parallel()

	t.Run("rejects pending payment", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		pay := f.submit(t, validSubmit())

		rejected, err := f.svc.Reject(context.Background(), f.admin, pay.ID, "screenshot unreadable")
		require.NoError(t, err)

		assert.Equal(t, payment.StatusRejected, rejected.Status)
		assert.Equal(t, "screenshot unreadable", rejected.RejectionReason)
		require.NotNil(t, rejected.RejectedBy)
		assert.Equal(t, f.admin.UserID, *rejected.RejectedBy)

		// Subscription untouched.
		_, err = f.subs.GetByTenantUser(context.Background(), f.tenantID, f.userID)
		assert.ErrorIs(t, err, subscription.ErrNotFound)
	})

	t.Run("empty reason fails validation", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		pay := f.submit(t, validSubmit())

		for _, reason := range []string{"", "   ", "\t\n"} {
			_, err := f.svc.Reject(context.Background(), f.admin, pay.ID, reason)
			assert.ErrorIs(t, err, payment.ErrValidation)
		}
	})

	t.Run("already approved fails", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		pay := f.submit(t, validSubmit())
		_, err := f.svc.Approve(context.Background(), f.admin, pay.ID, payment.ApproveParams{})
		require.NoError(t, err)

		_, err = f.svc.Reject(context.Background(), f.admin, pay.ID, "changed my mind")
		assert.ErrorIs(t, err, payment.ErrAlreadyProcessed)
	})
}

// rendezvousStore holds the first two reads until both arrived, forcing two
// reviewers to observe the same pending payment before either one writes.
type rendezvousStore struct {
	*payment.InMemoryStore
	gate  sync.WaitGroup
	reads atomic.Int32
}

func (s *rendezvousStore) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	if s.reads.Add(1) <= 2 {
		s.gate.Done()
		s.gate.Wait()
	}
	return s.InMemoryStore.GetByID(ctx, id)
}

type failingSequence struct{}

func (failingSequence) Next(ctx context.Context, year int, month time.Month) (int64, error) {
	return 0, errors.New("counter table unavailable")
}
