package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/core"
	"github.com/fieldbill/fieldbill/pkg/billing"
	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/subscription"
)

// maxBulkIDs caps how many subscriptions one bulk call may touch.
const maxBulkIDs = 100

// requireAdmin gates the admin subtree. Tenant-level authorization happens
// per entity once the target's tenant is known.
func (m *module) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity.FromContext(r.Context())
		if !ok {
			core.WriteError(w, core.ErrUnauthorized)
			return
		}
		if !caller.IsAdmin() {
			core.WriteError(w, core.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loadAuthorized loads a subscription and checks the caller may manage its
// tenant.
func (m *module) loadAuthorized(ctx context.Context, caller identity.Identity, id uuid.UUID) (*subscription.Subscription, error) {
	sub, err := m.SubStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanManageTenant(sub.TenantID) {
		return nil, core.ErrForbidden
	}
	return sub, nil
}

// subSnapshot trims a subscription to the fields an audit reader cares
// about.
func subSnapshot(s *subscription.Subscription) map[string]any {
	if s == nil {
		return nil
	}
	return map[string]any{
		"status":               s.Status,
		"billing_cycle":        s.BillingCycle,
		"current_period_end":   s.CurrentPeriodEnd,
		"auto_renew":           s.AutoRenew,
		"cancel_at_period_end": s.CancelAtPeriodEnd,
	}
}

type createSubscriptionRequest struct {
	TenantID     uuid.UUID  `json:"tenant_id"`
	UserID       uuid.UUID  `json:"user_id"`
	UserClass    string     `json:"user_class,omitempty"`
	BillingCycle string     `json:"billing_cycle"`
	Start        *time.Time `json:"start,omitempty"`
	Trial        bool       `json:"trial,omitempty"`
	TrialDays    int        `json:"trial_days,omitempty"`
	PlanTier     string     `json:"plan_tier,omitempty"`
}

func (m *module) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	missing := core.ValidationError{}
	if req.TenantID == uuid.Nil {
		missing["tenant_id"] = []string{"required"}
	}
	if req.UserID == uuid.Nil {
		missing["user_id"] = []string{"required"}
	}
	if req.BillingCycle == "" {
		missing["billing_cycle"] = []string{"required"}
	}
	if len(missing) > 0 {
		core.WriteError(w, missing)
		return
	}
	cycle, err := billing.ParseCycle(req.BillingCycle)
	if err != nil {
		core.WriteError(w, core.ErrInvalidPlanPeriod)
		return
	}
	if !caller.CanManageTenant(req.TenantID) {
		core.WriteError(w, core.ErrForbidden)
		return
	}

	sub, err := m.Subscriptions.Create(r.Context(), subscription.CreateParams{
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		UserClass: identity.UserType(req.UserClass),
		Cycle:     cycle,
		Start:     req.Start,
		Trial:     req.Trial,
		TrialDays: req.TrialDays,
		PlanTier:  req.PlanTier,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	m.Audit.Record(r.Context(), caller, "subscription.create", "subscription", sub.ID, nil, subSnapshot(sub))
	core.WriteJSON(w, http.StatusCreated, sub, nil)
}

func parseSubscriptionID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "subscriptionID"))
}

type renewRequest struct {
	NewCycle string `json:"new_cycle,omitempty"`
}

func (m *module) handleRenew(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	id, err := parseSubscriptionID(r)
	if err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	var req renewRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			core.WriteError(w, core.ErrBadRequest)
			return
		}
	}

	before, err := m.loadAuthorized(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}

	params := subscription.RenewParams{}
	if req.NewCycle != "" {
		cycle, err := billing.ParseCycle(req.NewCycle)
		if err != nil {
			core.WriteError(w, core.ErrInvalidPlanPeriod)
			return
		}
		params.NewCycle = &cycle
	}

	sub, err := m.Subscriptions.Renew(r.Context(), id, params)
	if err != nil {
		writeError(w, err)
		return
	}

	m.Audit.Record(r.Context(), caller, "subscription.renew", "subscription", id, subSnapshot(before), subSnapshot(sub))
	core.WriteJSON(w, http.StatusOK, sub, nil)
}

type reactivateRequest struct {
	BillingCycle string     `json:"billing_cycle"`
	Start        *time.Time `json:"start,omitempty"`
}

func (m *module) handleReactivate(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	id, err := parseSubscriptionID(r)
	if err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	var req reactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	cycle, err := billing.ParseCycle(req.BillingCycle)
	if err != nil {
		core.WriteError(w, core.ErrInvalidPlanPeriod)
		return
	}

	before, err := m.loadAuthorized(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := m.Subscriptions.Reactivate(r.Context(), id, cycle, subscription.ReactivateParams{Start: req.Start})
	if err != nil {
		writeError(w, err)
		return
	}

	m.Audit.Record(r.Context(), caller, "subscription.reactivate", "subscription", id, subSnapshot(before), subSnapshot(sub))
	core.WriteJSON(w, http.StatusOK, sub, nil)
}

type cancelRequest struct {
	Reason    string `json:"reason,omitempty"`
	Immediate bool   `json:"immediate,omitempty"`
}

func (m *module) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	id, err := parseSubscriptionID(r)
	if err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			core.WriteError(w, core.ErrBadRequest)
			return
		}
	}

	before, err := m.loadAuthorized(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := m.Subscriptions.Cancel(r.Context(), id, subscription.CancelParams{
		Reason:    req.Reason,
		Immediate: req.Immediate,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	m.Audit.Record(r.Context(), caller, "subscription.cancel", "subscription", id, subSnapshot(before), subSnapshot(sub))
	core.WriteJSON(w, http.StatusOK, sub, nil)
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

func (m *module) handleSuspend(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	id, err := parseSubscriptionID(r)
	if err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	var req suspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	if req.Reason == "" {
		core.WriteError(w, core.ValidationError{"reason": {"required"}})
		return
	}

	before, err := m.loadAuthorized(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := m.Subscriptions.Suspend(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	m.Audit.Record(r.Context(), caller, "subscription.suspend", "subscription", id, subSnapshot(before), subSnapshot(sub))
	core.WriteJSON(w, http.StatusOK, sub, nil)
}

type extendTrialRequest struct {
	ExtraDays int `json:"extra_days"`
}

func (m *module) handleExtendTrial(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	id, err := parseSubscriptionID(r)
	if err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	var req extendTrialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	if req.ExtraDays <= 0 {
		core.WriteError(w, core.ValidationError{"extra_days": {"must be positive"}})
		return
	}

	before, err := m.loadAuthorized(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := m.Subscriptions.ExtendTrial(r.Context(), id, req.ExtraDays)
	if err != nil {
		writeError(w, err)
		return
	}

	m.Audit.Record(r.Context(), caller, "subscription.extend_trial", "subscription", id, subSnapshot(before), subSnapshot(sub))
	core.WriteJSON(w, http.StatusOK, sub, nil)
}

func (m *module) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	id, err := parseSubscriptionID(r)
	if err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}

	before, err := m.loadAuthorized(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := m.Tracker.ResetUsage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	m.Audit.Record(r.Context(), caller, "subscription.reset_usage", "subscription", id,
		map[string]any{"data_downloaded": before.DataDownloaded, "api_calls_count": before.APICallsCount},
		map[string]any{"data_downloaded": sub.DataDownloaded, "api_calls_count": sub.APICallsCount})
	core.WriteJSON(w, http.StatusOK, sub, nil)
}

func (m *module) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	id, err := parseSubscriptionID(r)
	if err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	if _, err := m.loadAuthorized(r.Context(), caller, id); err != nil {
		writeError(w, err)
		return
	}

	events, err := m.Audit.Trail(r.Context(), "subscription", id)
	if err != nil {
		writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, events, nil)
}

type bulkLifecycleRequest struct {
	IDs          []uuid.UUID `json:"ids"`
	Reason       string      `json:"reason,omitempty"`
	Immediate    bool        `json:"immediate,omitempty"`
	ExtraDays    int         `json:"extra_days,omitempty"`
	BillingCycle string      `json:"billing_cycle,omitempty"`
}

type bulkResult struct {
	ID      uuid.UUID `json:"id"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

// handleBulkLifecycle applies one lifecycle action to up to 100
// subscriptions, reporting per-ID outcomes instead of failing the batch.
func (m *module) handleBulkLifecycle(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	action := chi.URLParam(r, "action")
	var req bulkLifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		core.WriteError(w, core.ValidationError{"ids": {"required"}})
		return
	}
	if len(req.IDs) > maxBulkIDs {
		core.WriteError(w, core.ValidationError{"ids": {"at most 100 ids per call"}})
		return
	}

	apply := func(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
		switch action {
		case "cancel":
			return m.Subscriptions.Cancel(ctx, id, subscription.CancelParams{Reason: req.Reason, Immediate: req.Immediate})
		case "suspend":
			if req.Reason == "" {
				return nil, core.ValidationError{"reason": {"required"}}
			}
			return m.Subscriptions.Suspend(ctx, id, req.Reason)
		case "renew":
			return m.Subscriptions.Renew(ctx, id, subscription.RenewParams{})
		case "reactivate":
			cycle, err := billing.ParseCycle(req.BillingCycle)
			if err != nil {
				return nil, core.ErrInvalidPlanPeriod
			}
			return m.Subscriptions.Reactivate(ctx, id, cycle, subscription.ReactivateParams{})
		case "extend-trial":
			if req.ExtraDays <= 0 {
				return nil, core.ValidationError{"extra_days": {"must be positive"}}
			}
			return m.Subscriptions.ExtendTrial(ctx, id, req.ExtraDays)
		default:
			return nil, core.ErrBadRequest
		}
	}
	switch action {
	case "cancel", "suspend", "renew", "reactivate", "extend-trial":
	default:
		core.WriteError(w, core.ErrBadRequest)
		return
	}

	results := make([]bulkResult, 0, len(req.IDs))
	for _, id := range req.IDs {
		before, err := m.loadAuthorized(r.Context(), caller, id)
		if err != nil {
			results = append(results, bulkResult{ID: id, Error: mapError(err).Error()})
			continue
		}
		sub, err := apply(r.Context(), id)
		if err != nil {
			results = append(results, bulkResult{ID: id, Error: mapError(err).Error()})
			continue
		}
		m.Audit.Record(r.Context(), caller, "subscription."+action+".bulk", "subscription", id,
			subSnapshot(before), subSnapshot(sub))
		results = append(results, bulkResult{ID: id, Success: true})
	}

	core.WriteJSON(w, http.StatusOK, results, nil)
}
