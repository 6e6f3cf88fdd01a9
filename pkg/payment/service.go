package payment

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
	"github.com/fieldbill/fieldbill/pkg/subscription"
	"github.com/fieldbill/fieldbill/pkg/tenant"
)

// Lifecycle is the slice of the subscription service the approval workflow
// drives.
type Lifecycle interface {
	Create(ctx context.Context, p subscription.CreateParams) (*subscription.Subscription, error)
	Renew(ctx context.Context, id uuid.UUID, p subscription.RenewParams) (*subscription.Subscription, error)
	Reactivate(ctx context.Context, id uuid.UUID, cycle billing.Cycle, p subscription.ReactivateParams) (*subscription.Subscription, error)
}

// Service handles payment submission, admin review and retry reconciliation.
type Service struct {
	payments  Store
	invoices  InvoiceSequence
	subs      subscription.Store
	lifecycle Lifecycle
	tenants   tenant.Provider
	users     tenant.UserStore
	log       *slog.Logger
	now       func() time.Time
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the payment workflow.
func NewService(
	payments Store,
	invoices InvoiceSequence,
	subs subscription.Store,
	lifecycle Lifecycle,
	tenants tenant.Provider,
	users tenant.UserStore,
	opts ...ServiceOption,
) *Service {
	if payments == nil || invoices == nil || subs == nil || lifecycle == nil || tenants == nil || users == nil {
		panic("payment: all dependencies are required")
	}
	s := &Service{
		payments:  payments,
		invoices:  invoices,
		subs:      subs,
		lifecycle: lifecycle,
		tenants:   tenants,
		users:     users,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitParams is a payment-proof submission from a mobile client.
type SubmitParams struct {
	PlanPeriod    string
	Amount        int64
	Currency      string
	TransactionID string
	Notes         string
	ScreenshotURL string
}

// Submit validates and persists a pending payment proof for the caller.
func (s *Service) Submit(ctx context.Context, caller identity.Identity, p SubmitParams) (*Payment, error) {
	cycle, err := billing.ParseCycle(p.PlanPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlanPeriod, p.PlanPeriod)
	}
	if !ValidTransactionID(p.TransactionID) {
		return nil, ErrInvalidTransactionID
	}

	// Pre-check for a readable error; the store's uniqueness constraint
	// remains the backstop against a concurrent submission.
	exists, err := s.payments.TransactionExists(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateTransaction
	}

	user, err := s.users.FindUser(ctx, caller.TenantID, caller.UserType, caller.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, tenant.ErrUserInactive
	}

	tn, err := s.tenants.GetByID(ctx, caller.TenantID)
	if err != nil {
		return nil, err
	}

	amountValidated := false
	if expected, ok := tn.ExpectedPrice(cycle); ok {
		if !AmountWithinTolerance(p.Amount, expected.Amount) {
			return nil, fmt.Errorf("%w: submitted %d, expected %d", ErrAmountMismatch, p.Amount, expected.Amount)
		}
		amountValidated = true
	}

	now := s.now()
	pay := &Payment{
		ID:       uuid.New(),
		TenantID: caller.TenantID,
		Submitter: &SubmitterSnapshot{
			UserID:   user.ID,
			Name:     user.Name,
			Phone:    user.Phone,
			Email:    user.Email,
			UserType: user.UserType,
		},
		PlanPeriod:      cycle,
		Amount:          p.Amount,
		Currency:        p.Currency,
		TransactionID:   p.TransactionID,
		Notes:           strings.TrimSpace(p.Notes),
		ScreenshotURL:   p.ScreenshotURL,
		AmountValidated: amountValidated,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.payments.Create(ctx, pay); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return nil, ErrDuplicateTransaction
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "payment submitted",
		"payment_id", pay.ID, "tenant_id", pay.TenantID, "transaction_id", pay.TransactionID,
		"plan_period", cycle, "amount_validated", amountValidated)
	return pay, nil
}

// ListForUser returns the caller's payment history, newest first.
func (s *Service) ListForUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*Payment, error) {
	return s.payments.ListByTenantUser(ctx, tenantID, userID)
}

// Get returns a payment by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.payments.GetByID(ctx, id)
}
