package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/subscription"
	"github.com/fieldbill/fieldbill/pkg/tenant"
)

// ApproveParams tunes an approval.
type ApproveParams struct {
	// MobileUserID overrides the payment's stored submitter as the
	// subscription owner. Required when the payment predates submitter
	// snapshots.
	MobileUserID  *uuid.UUID
	ApprovalNotes string
}

// ApprovalResult is what an approval produced. Subscription is nil when the
// lifecycle step failed and was deferred to the reconcile sweep.
type ApprovalResult struct {
	Payment      *Payment
	Subscription *subscription.Subscription
	Action       Action
	Invoice      string
}

// Approve marks a pending payment approved and applies the matching
// subscription mutation. A lifecycle failure does not fail the approval:
// money received is a business fact, entitlement is a side effect the
// reconcile sweep can re-attempt. Invoice numbering and screenshot
// scheduling are non-critical and never fail the operation either.
func (s *Service) Approve(ctx context.Context, approver identity.Identity, id uuid.UUID, p ApproveParams) (*ApprovalResult, error) {
	pay, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pay.Status != StatusPending {
		return nil, fmt.Errorf("%w: payment is %q", ErrAlreadyProcessed, pay.Status)
	}

	if pay.Submitter != nil {
		user, err := s.users.FindUser(ctx, pay.TenantID, pay.Submitter.UserType, pay.Submitter.UserID)
		if err != nil {
			return nil, err
		}
		if !user.Active {
			return nil, tenant.ErrUserInactive
		}
	} else {
		s.log.WarnContext(ctx, "payment predates submitter snapshots, skipping re-validation", "payment_id", pay.ID)
	}

	tn, err := s.tenants.GetByID(ctx, pay.TenantID)
	if err != nil {
		return nil, err
	}
	planTier := tn.ResolvePlanTier()

	userID := uuid.Nil
	switch {
	case p.MobileUserID != nil:
		userID = *p.MobileUserID
	case pay.Submitter != nil:
		userID = pay.Submitter.UserID
	}
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: no mobile user to grant the subscription to", ErrValidation)
	}

	// Claim the payment with a conditional pending-only write BEFORE touching
	// the subscription: of two concurrent reviewers exactly one wins the
	// claim, so the losing approval returns ErrAlreadyProcessed instead of
	// renewing a second time. The claim carries an open retry checkpoint; the
	// final write below closes it, and a crash in between leaves the payment
	// for the reconcile sweep.
	now := s.now()
	retryAt := now.Add(RetryDelay)
	pay.Status = StatusApproved
	pay.ApprovedBy = &approver.UserID
	pay.ApprovedAt = &now
	pay.ApprovalNotes = strings.TrimSpace(p.ApprovalNotes)
	pay.RetryCount = 0
	pay.NextRetryAt = &retryAt
	pay.RetryReason = "subscription update not yet applied"
	pay.UpdatedAt = now
	if err := s.payments.UpdateFromPending(ctx, pay); err != nil {
		return nil, err
	}

	action, sub, lifecycleErr := s.applyLifecycle(ctx, pay, planTier, userID)
	pay.Action = action

	if lifecycleErr != nil {
		pay.RetryReason = lifecycleErr.Error()
		s.log.ErrorContext(ctx, "subscription mutation failed, approval recorded with retry checkpoint",
			"payment_id", pay.ID, "action", action, "error", lifecycleErr)
	} else {
		pay.RetryCount = 0
		pay.NextRetryAt = nil
		pay.RetryReason = ""
		pay.PeriodStart = &sub.CurrentPeriodStart
		pay.PeriodEnd = &sub.CurrentPeriodEnd
	}

	invoice := ""
	seq, err := s.invoices.Next(ctx, now.Year(), now.Month())
	if err != nil {
		s.log.ErrorContext(ctx, "invoice numbering failed, continuing without invoice", "payment_id", pay.ID, "error", err)
	} else {
		invoice = FormatInvoiceNumber(now.Year(), now.Month(), seq)
		pay.InvoiceNumber = invoice
		pay.InvoicedAt = &now
	}

	if pay.ScreenshotURL != "" {
		deleteAt := now.Add(ScreenshotRetention)
		pay.ScreenshotDeleteAt = &deleteAt
	}

	if err := s.payments.Update(ctx, pay); err != nil {
		return nil, err
	}

	if sub != nil {
		sub.LastPaymentID = &pay.ID
		if err := s.subs.Update(ctx, sub); err != nil {
			s.log.ErrorContext(ctx, "failed to back-reference payment on subscription", "payment_id", pay.ID, "error", err)
		}
	}

	s.log.InfoContext(ctx, "payment approved",
		"payment_id", pay.ID, "action", action, "invoice", invoice, "deferred", lifecycleErr != nil)

	return &ApprovalResult{Payment: pay, Subscription: sub, Action: action, Invoice: invoice}, nil
}

// applyLifecycle picks and runs the subscription mutation for a payment.
// No subscription yet means create; a live one renews; a lapsed one
// reactivates. Statuses outside those sets fall back to a renew attempt so
// the failure lands in the retry checkpoint instead of blocking the
// approval.
func (s *Service) applyLifecycle(ctx context.Context, pay *Payment, planTier string, userID uuid.UUID) (Action, *subscription.Subscription, error) {
	existing, err := s.subs.GetByTenantUser(ctx, pay.TenantID, userID)
	if err != nil {
		if !errors.Is(err, subscription.ErrNotFound) {
			return ActionCreate, nil, err
		}
		userClass := identity.UserTypeOther
		if pay.Submitter != nil {
			userClass = pay.Submitter.UserType
		}
		sub, err := s.lifecycle.Create(ctx, subscription.CreateParams{
			TenantID:  pay.TenantID,
			UserID:    userID,
			UserClass: userClass,
			Cycle:     pay.PlanPeriod,
			PlanTier:  planTier,
		})
		return ActionCreate, sub, err
	}

	switch existing.Status {
	case subscription.StatusExpired, subscription.StatusCancelled, subscription.StatusSuspended:
		sub, err := s.lifecycle.Reactivate(ctx, existing.ID, pay.PlanPeriod, subscription.ReactivateParams{})
		return ActionReactivate, sub, err
	default:
		cycle := pay.PlanPeriod
		sub, err := s.lifecycle.Renew(ctx, existing.ID, subscription.RenewParams{NewCycle: &cycle})
		return ActionRenew, sub, err
	}
}

// Reject marks a pending payment rejected with the given reason. The
// subscription is never touched.
func (s *Service) Reject(ctx context.Context, approver identity.Identity, id uuid.UUID, reason string) (*Payment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}

	pay, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pay.Status != StatusPending {
		return nil, fmt.Errorf("%w: payment is %q", ErrAlreadyProcessed, pay.Status)
	}

	now := s.now()
	pay.Status = StatusRejected
	pay.RejectedBy = &approver.UserID
	pay.RejectedAt = &now
	pay.RejectionReason = reason
	pay.UpdatedAt = now

	if err := s.payments.UpdateFromPending(ctx, pay); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "payment rejected", "payment_id", pay.ID, "reason", reason)
	return pay, nil
}
