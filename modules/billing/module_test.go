package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbill/fieldbill/modules/billing"
	"github.com/fieldbill/fieldbill/pkg/accessgate"
	"github.com/fieldbill/fieldbill/pkg/audit"
	pkgbilling "github.com/fieldbill/fieldbill/pkg/billing"
	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/payment"
	"github.com/fieldbill/fieldbill/pkg/subscription"
	"github.com/fieldbill/fieldbill/pkg/tenant"
	"github.com/fieldbill/fieldbill/pkg/usage"
)

type env struct {
	router   http.Handler
	subs     *subscription.InMemoryStore
	subSvc   *subscription.Service
	payments *payment.InMemoryStore
	audits   *audit.InMemoryStorage
	dir      *tenant.InMemoryStore
	now      time.Time
	tenantID uuid.UUID
	userID   uuid.UUID
	member   identity.Identity
	admin    identity.Identity
	super    identity.Identity
}

func newEnv(t *testing.T) *env {
	t.Helper()

	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	dir := tenant.NewInMemoryStore()
	tenantID := uuid.New()
	userID := uuid.New()
	dir.AddTenant(&tenant.Tenant{
		ID: tenantID, Name: "Acme Recovery", Active: true,
		Pricing: map[pkgbilling.Cycle]pkgbilling.Money{
			pkgbilling.CycleMonthly: {Amount: 340, Currency: "USD"},
		},
	})
	dir.AddUser(&tenant.User{
		ID: userID, TenantID: tenantID, Name: "Dana Reyes",
		UserType: identity.UserTypeRepoAgent, Active: true,
	})

	subs := subscription.NewInMemoryStore()
	subSvc := subscription.NewService(subs, subscription.WithClock(clock))
	payments := payment.NewInMemoryStore()
	paySvc := payment.NewService(payments, payment.NewInMemoryInvoiceSequence(), subs, subSvc, dir, dir,
		payment.WithClock(clock))
	audits := audit.NewInMemoryStorage()

	router := billing.Router(billing.Deps{
		Payments:      paySvc,
		Subscriptions: subSvc,
		SubStore:      subs,
		Gate:          accessgate.New(subs, accessgate.WithClock(clock)),
		Tracker:       usage.NewTracker(subs, usage.NewInMemoryHistory(), usage.UnlimitedCatalog(), usage.WithClock(clock)),
		Audit:         audit.NewLogger(audits, audit.WithClock(clock)),
	})

	return &env{
		router:   router,
		subs:     subs,
		subSvc:   subSvc,
		payments: payments,
		audits:   audits,
		dir:      dir,
		now:      now,
		tenantID: tenantID,
		userID:   userID,
		member: identity.Identity{
			TenantID: tenantID, UserID: userID,
			UserType: identity.UserTypeRepoAgent, Role: identity.RoleMember,
		},
		admin: identity.Identity{
			TenantID: tenantID, UserID: uuid.New(),
			UserType: identity.UserTypeOfficeStaff, Role: identity.RoleTenantAdmin,
		},
		super: identity.Identity{
			TenantID: uuid.New(), UserID: uuid.New(), Role: identity.RoleSuperAdmin,
		},
	}
}

func (e *env) do(t *testing.T, id identity.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(identity.WithIdentity(context.Background(), id))

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitPaymentEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("created", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		rec := e.do(t, e.member, http.MethodPost, "/payments", map[string]any{
			"plan_period":    "monthly",
			"amount":         340,
			"currency":       "USD",
			"transaction_id": "ABC12345",
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"pending"`)
	})

	t.Run("duplicate transaction conflicts", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		body := map[string]any{
			"plan_period": "monthly", "amount": 340, "transaction_id": "ABC12345",
		}
		require.Equal(t, http.StatusCreated, e.do(t, e.member, http.MethodPost, "/payments", body).Code)

		rec := e.do(t, e.member, http.MethodPost, "/payments", body)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "duplicate_transaction")
	})

	t.Run("amount mismatch", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		rec := e.do(t, e.member, http.MethodPost, "/payments", map[string]any{
			"plan_period": "monthly", "amount": 350, "transaction_id": "ABC12345",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "amount_mismatch")
	})
}

func TestApproveRejectEndpoints(t *testing.T) {
	t.Parallel()

	submit := func(t *testing.T, e *env) uuid.UUID {
		t.Helper()
		rec := e.do(t, e.member, http.MethodPost, "/payments", map[string]any{
			"plan_period": "monthly", "amount": 340, "transaction_id": "ABC12345",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			Data payment.Payment `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Data.ID
	}

	t.Run("admin approves and audit records it", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		payID := submit(t, e)

		rec := e.do(t, e.admin, http.MethodPost, fmt.Sprintf("/admin/payments/%s/approve", payID), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"action":"create"`)
		assert.Contains(t, rec.Body.String(), "INV-2024-06-00001")

		trail, err := e.audits.ListByEntity(context.Background(), "payment", payID)
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Equal(t, "payment.approve", trail[0].Action)
		assert.Equal(t, e.admin.UserID, trail[0].ActorID)
	})

	t.Run("member cannot reach admin endpoints", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		payID := submit(t, e)

		rec := e.do(t, e.member, http.MethodPost, fmt.Sprintf("/admin/payments/%s/approve", payID), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("tenant admin of another tenant is forbidden", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		payID := submit(t, e)

		foreign := identity.Identity{
			TenantID: uuid.New(), UserID: uuid.New(), Role: identity.RoleTenantAdmin,
		}
		rec := e.do(t, foreign, http.MethodPost, fmt.Sprintf("/admin/payments/%s/approve", payID), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("super admin can approve any tenant", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		payID := submit(t, e)

		rec := e.do(t, e.super, http.MethodPost, fmt.Sprintf("/admin/payments/%s/approve", payID), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("reject requires a reason", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		payID := submit(t, e)

		rec := e.do(t, e.admin, http.MethodPost, fmt.Sprintf("/admin/payments/%s/reject", payID), map[string]any{
			"rejection_reason": "   ",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = e.do(t, e.admin, http.MethodPost, fmt.Sprintf("/admin/payments/%s/reject", payID), map[string]any{
			"rejection_reason": "screenshot unreadable",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"rejected"`)
	})

	t.Run("approving twice is already processed", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		payID := submit(t, e)

		require.Equal(t, http.StatusOK,
			e.do(t, e.admin, http.MethodPost, fmt.Sprintf("/admin/payments/%s/approve", payID), nil).Code)

		rec := e.do(t, e.admin, http.MethodPost, fmt.Sprintf("/admin/payments/%s/approve", payID), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "already_processed")
	})
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("active subscription", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		_, err := e.subSvc.Create(context.Background(), subscription.CreateParams{
			TenantID: e.tenantID, UserID: e.userID,
			UserClass: identity.UserTypeRepoAgent, Cycle: pkgbilling.CycleMonthly,
		})
		require.NoError(t, err)

		rec := e.do(t, e.member, http.MethodGet, "/status", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data struct {
				Status    string `json:"status"`
				IsActive  bool   `json:"is_active"`
				CanAccess bool   `json:"can_access"`
				Usage     struct {
					DataDownloaded int64 `json:"data_downloaded"`
				} `json:"usage"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "active", resp.Data.Status)
		assert.True(t, resp.Data.IsActive)
		assert.True(t, resp.Data.CanAccess)
	})

	t.Run("no subscription is 404", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		rec := e.do(t, e.member, http.MethodGet, "/status", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminLifecycleEndpoints(t *testing.T) {
	t.Parallel()

	seed := func(t *testing.T, e *env) *subscription.Subscription {
		t.Helper()
		sub, err := e.subSvc.Create(context.Background(), subscription.CreateParams{
			TenantID: e.tenantID, UserID: e.userID,
			UserClass: identity.UserTypeRepoAgent, Cycle: pkgbilling.CycleMonthly,
		})
		require.NoError(t, err)
		return sub
	}

	t.Run("create validates required fields first", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		rec := e.do(t, e.admin, http.MethodPost, "/admin/subscriptions", map[string]any{})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("create then suspend with audit trail", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		rec := e.do(t, e.admin, http.MethodPost, "/admin/subscriptions", map[string]any{
			"tenant_id": e.tenantID, "user_id": e.userID, "billing_cycle": "monthly",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var created struct {
			Data subscription.Subscription `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

		rec = e.do(t, e.admin, http.MethodPost,
			fmt.Sprintf("/admin/subscriptions/%s/suspend", created.Data.ID),
			map[string]any{"reason": "chargeback"})
		assert.Equal(t, http.StatusOK, rec.Code)

		trail, err := e.audits.ListByEntity(context.Background(), "subscription", created.Data.ID)
		require.NoError(t, err)
		require.Len(t, trail, 2)
		assert.Equal(t, "subscription.suspend", trail[0].Action)
		assert.Contains(t, string(trail[0].Before), `"active"`)
		assert.Contains(t, string(trail[0].After), `"suspended"`)
	})

	t.Run("suspend without reason fails validation", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		sub := seed(t, e)
		rec := e.do(t, e.admin, http.MethodPost,
			fmt.Sprintf("/admin/subscriptions/%s/suspend", sub.ID), map[string]any{})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("bulk cancel reports per-id outcomes", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		sub := seed(t, e)
		missing := uuid.New()

		rec := e.do(t, e.admin, http.MethodPost, "/admin/subscriptions/bulk/cancel", map[string]any{
			"ids": []uuid.UUID{sub.ID, missing}, "reason": "contract ended",
		})
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data []struct {
				ID      uuid.UUID `json:"id"`
				Success bool      `json:"success"`
				Error   string    `json:"error"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 2)
		assert.True(t, resp.Data[0].Success)
		assert.False(t, resp.Data[1].Success)
		assert.NotEmpty(t, resp.Data[1].Error)
	})

	t.Run("bulk reactivate restarts cancelled subscriptions", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		sub := seed(t, e)
		_, err := e.subSvc.Cancel(context.Background(), sub.ID, subscription.CancelParams{
			Reason: "missed payment", Immediate: true,
		})
		require.NoError(t, err)

		rec := e.do(t, e.admin, http.MethodPost, "/admin/subscriptions/bulk/reactivate", map[string]any{
			"ids": []uuid.UUID{sub.ID}, "billing_cycle": "yearly",
		})
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data []struct {
				ID      uuid.UUID `json:"id"`
				Success bool      `json:"success"`
				Error   string    `json:"error"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		assert.True(t, resp.Data[0].Success)

		restarted, err := e.subs.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, restarted.Status)
		assert.Equal(t, pkgbilling.CycleYearly, restarted.BillingCycle)

		trail, err := e.audits.ListByEntity(context.Background(), "subscription", sub.ID)
		require.NoError(t, err)
		require.NotEmpty(t, trail)
		assert.Equal(t, "subscription.reactivate.bulk", trail[0].Action)
	})

	t.Run("bulk reactivate without a cycle reports per-id failure", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		sub := seed(t, e)
		_, err := e.subSvc.Cancel(context.Background(), sub.ID, subscription.CancelParams{
			Reason: "missed payment", Immediate: true,
		})
		require.NoError(t, err)

		rec := e.do(t, e.admin, http.MethodPost, "/admin/subscriptions/bulk/reactivate", map[string]any{
			"ids": []uuid.UUID{sub.ID},
		})
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data []struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		assert.False(t, resp.Data[0].Success)
		assert.NotEmpty(t, resp.Data[0].Error)
	})

	t.Run("bulk rejects more than 100 ids", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		ids := make([]uuid.UUID, 101)
		for i := range ids {
			ids[i] = uuid.New()
		}
		rec := e.do(t, e.admin, http.MethodPost, "/admin/subscriptions/bulk/cancel", map[string]any{
			"ids": ids,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("unknown bulk action", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		rec := e.do(t, e.admin, http.MethodPost, "/admin/subscriptions/bulk/detonate", map[string]any{
			"ids": []uuid.UUID{uuid.New()},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
