package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/pkg/subscription"
)

// Reconcile re-attempts the subscription mutation for approved payments
// whose checkpoint is still open. Run by the scheduled sweep. A successful
// re-attempt clears the checkpoint and mirrors the resulting period onto
// the payment; a failed one bumps the retry counter and pushes the next
// attempt out.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.payments.ListRetryDue(ctx, now)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, pay := range due {
		userID := uuid.Nil
		if pay.Submitter != nil {
			userID = pay.Submitter.UserID
		}
		if userID == uuid.Nil {
			s.log.WarnContext(ctx, "cannot reconcile payment without a submitter", "payment_id", pay.ID)
			continue
		}

		tn, err := s.tenants.GetByID(ctx, pay.TenantID)
		if err != nil {
			s.log.ErrorContext(ctx, "reconcile tenant lookup failed", "payment_id", pay.ID, "error", err)
			continue
		}

		action, sub, lifecycleErr := s.applyLifecycle(ctx, pay, tn.ResolvePlanTier(), userID)

		// A renewal that already happened reads as an advanced period on a
		// live subscription; treat the checkpoint as resolved rather than
		// double-extending.
		if lifecycleErr != nil && errors.Is(lifecycleErr, subscription.ErrConcurrentUpdate) {
			lifecycleErr = nil
			sub, err = s.subs.GetByTenantUser(ctx, pay.TenantID, userID)
			if err != nil {
				s.log.ErrorContext(ctx, "reconcile subscription reload failed", "payment_id", pay.ID, "error", err)
				continue
			}
		}

		pay.Action = action
		pay.UpdatedAt = now
		if lifecycleErr != nil {
			pay.RetryCount++
			retryAt := now.Add(RetryDelay)
			pay.NextRetryAt = &retryAt
			pay.RetryReason = lifecycleErr.Error()
			s.log.WarnContext(ctx, "reconcile attempt failed",
				"payment_id", pay.ID, "retry_count", pay.RetryCount, "error", lifecycleErr)
		} else {
			pay.RetryCount = 0
			pay.NextRetryAt = nil
			pay.RetryReason = ""
			if sub != nil {
				pay.PeriodStart = &sub.CurrentPeriodStart
				pay.PeriodEnd = &sub.CurrentPeriodEnd
			}
			resolved++
		}

		if err := s.payments.Update(ctx, pay); err != nil {
			s.log.ErrorContext(ctx, "reconcile checkpoint write failed", "payment_id", pay.ID, "error", err)
			continue
		}

		if lifecycleErr == nil && sub != nil {
			sub.LastPaymentID = &pay.ID
			if err := s.subs.Update(ctx, sub); err != nil {
				s.log.ErrorContext(ctx, "failed to back-reference payment on subscription", "payment_id", pay.ID, "error", err)
			}
		}
	}
	return resolved, nil
}

// ScreenshotRemover deletes a stored proof image. File storage is an
// external subsystem; only the deletion capability crosses the boundary.
type ScreenshotRemover interface {
	Remove(ctx context.Context, url string) error
}

// PurgeScreenshots deletes proof images whose retention lapsed and clears
// the reference from the payment. Run by the scheduled sweep.
func (s *Service) PurgeScreenshots(ctx context.Context, remover ScreenshotRemover) (int, error) {
	now := s.now()
	due, err := s.payments.ListScreenshotPurgeDue(ctx, now)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, pay := range due {
		if err := remover.Remove(ctx, pay.ScreenshotURL); err != nil {
			s.log.ErrorContext(ctx, "screenshot deletion failed", "payment_id", pay.ID, "error", err)
			continue
		}
		pay.ScreenshotURL = ""
		pay.ScreenshotDeleteAt = nil
		pay.UpdatedAt = now
		if err := s.payments.Update(ctx, pay); err != nil {
			s.log.ErrorContext(ctx, "failed to clear screenshot reference", "payment_id", pay.ID, "error", err)
			continue
		}
		purged++
	}
	return purged, nil
}
