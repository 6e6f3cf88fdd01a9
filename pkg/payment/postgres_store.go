package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/pg"
)

// PostgresStore implements Store over a pgx connection pool. The unique
// index on transaction_id is the race backstop for duplicate submissions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const paymentColumns = `
	id, tenant_id,
	submitter_user_id, submitter_name, submitter_phone, submitter_email, submitter_user_type,
	plan_period, amount, currency, transaction_id, notes, screenshot_url, amount_validated,
	status, approved_by, approved_at, approval_notes, rejected_by, rejected_at, rejection_reason,
	action, period_start, period_end, invoice_number, invoiced_at,
	retry_count, next_retry_at, retry_reason, screenshot_delete_at,
	created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p           Payment
		submitterID *uuid.UUID
		name        *string
		phone       *string
		email       *string
		userType    *string
	)
	err := row.Scan(
		&p.ID, &p.TenantID,
		&submitterID, &name, &phone, &email, &userType,
		&p.PlanPeriod, &p.Amount, &p.Currency, &p.TransactionID, &p.Notes, &p.ScreenshotURL, &p.AmountValidated,
		&p.Status, &p.ApprovedBy, &p.ApprovedAt, &p.ApprovalNotes, &p.RejectedBy, &p.RejectedAt, &p.RejectionReason,
		&p.Action, &p.PeriodStart, &p.PeriodEnd, &p.InvoiceNumber, &p.InvoicedAt,
		&p.RetryCount, &p.NextRetryAt, &p.RetryReason, &p.ScreenshotDeleteAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if submitterID != nil {
		snap := SubmitterSnapshot{UserID: *submitterID}
		if name != nil {
			snap.Name = *name
		}
		if phone != nil {
			snap.Phone = *phone
		}
		if email != nil {
			snap.Email = *email
		}
		if userType != nil {
			snap.UserType = identity.UserType(*userType)
		}
		p.Submitter = &snap
	}
	return &p, nil
}

func submitterFields(p *Payment) (id *uuid.UUID, name, phone, email, userType *string) {
	if p.Submitter == nil {
		return nil, nil, nil, nil, nil
	}
	ut := string(p.Submitter.UserType)
	return &p.Submitter.UserID, &p.Submitter.Name, &p.Submitter.Phone, &p.Submitter.Email, &ut
}

func (s *PostgresStore) Create(ctx context.Context, p *Payment) error {
	subID, name, phone, email, ut := submitterFields(p)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32)`,
		p.ID, p.TenantID,
		subID, name, phone, email, ut,
		p.PlanPeriod, p.Amount, p.Currency, p.TransactionID, p.Notes, p.ScreenshotURL, p.AmountValidated,
		p.Status, p.ApprovedBy, p.ApprovedAt, p.ApprovalNotes, p.RejectedBy, p.RejectedAt, p.RejectionReason,
		p.Action, p.PeriodStart, p.PeriodEnd, p.InvoiceNumber, p.InvoicedAt,
		p.RetryCount, p.NextRetryAt, p.RetryReason, p.ScreenshotDeleteAt,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (s *PostgresStore) TransactionExists(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE transaction_id = $1)`, transactionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check transaction reference: %w", err)
	}
	return exists, nil
}

const paymentUpdateSet = `
	status = $2, approved_by = $3, approved_at = $4, approval_notes = $5,
	rejected_by = $6, rejected_at = $7, rejection_reason = $8,
	action = $9, period_start = $10, period_end = $11,
	invoice_number = $12, invoiced_at = $13,
	retry_count = $14, next_retry_at = $15, retry_reason = $16,
	screenshot_url = $17, screenshot_delete_at = $18, updated_at = $19`

func paymentUpdateArgs(p *Payment) []any {
	return []any{
		p.ID,
		p.Status, p.ApprovedBy, p.ApprovedAt, p.ApprovalNotes,
		p.RejectedBy, p.RejectedAt, p.RejectionReason,
		p.Action, p.PeriodStart, p.PeriodEnd,
		p.InvoiceNumber, p.InvoicedAt,
		p.RetryCount, p.NextRetryAt, p.RetryReason,
		p.ScreenshotURL, p.ScreenshotDeleteAt, p.UpdatedAt,
	}
}

func (s *PostgresStore) Update(ctx context.Context, p *Payment) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payments SET`+paymentUpdateSet+` WHERE id = $1`,
		paymentUpdateArgs(p)...,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateFromPending(ctx context.Context, p *Payment) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payments SET`+paymentUpdateSet+` WHERE id = $1 AND status = $20`,
		append(paymentUpdateArgs(p), StatusPending)...,
	)
	if err != nil {
		return fmt.Errorf("update payment from pending: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows means either a lost review race or a missing payment.
	var status Status
	err = s.pool.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1`, p.ID).Scan(&status)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update payment from pending: %w", err)
	}
	return fmt.Errorf("%w: payment is %q", ErrAlreadyProcessed, status)
}

func (s *PostgresStore) ListByTenantUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*Payment, error) {
	return s.list(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = $1 AND submitter_user_id = $2
		ORDER BY created_at DESC`, tenantID, userID)
}

func (s *PostgresStore) ListRetryDue(ctx context.Context, now time.Time) ([]*Payment, error) {
	return s.list(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = $1 AND retry_reason <> '' AND next_retry_at IS NOT NULL AND next_retry_at <= $2`,
		StatusApproved, now)
}

func (s *PostgresStore) ListScreenshotPurgeDue(ctx context.Context, now time.Time) ([]*Payment, error) {
	return s.list(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE screenshot_url <> '' AND screenshot_delete_at IS NOT NULL AND screenshot_delete_at <= $1`, now)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Payment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return out, nil
}

// PostgresInvoiceSequence implements InvoiceSequence with an atomic upsert
// on a per-month counter row.
type PostgresInvoiceSequence struct {
	pool *pgxpool.Pool
}

// NewPostgresInvoiceSequence creates a PostgresInvoiceSequence.
func NewPostgresInvoiceSequence(pool *pgxpool.Pool) *PostgresInvoiceSequence {
	return &PostgresInvoiceSequence{pool: pool}
}

// Next implements InvoiceSequence.
func (s *PostgresInvoiceSequence) Next(ctx context.Context, year int, month time.Month) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO invoice_counters (year, month, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (year, month) DO UPDATE SET seq = invoice_counters.seq + 1
		RETURNING seq`, year, int(month)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next invoice sequence: %w", err)
	}
	return seq, nil
}
