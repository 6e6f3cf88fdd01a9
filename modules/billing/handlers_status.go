package billing

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fieldbill/fieldbill/core"
	"github.com/fieldbill/fieldbill/pkg/billing"
	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/subscription"
)

type usagePayload struct {
	DataDownloaded int64     `json:"data_downloaded"`
	APICallsCount  int64     `json:"api_calls_count"`
	LastUsageReset time.Time `json:"last_usage_reset"`
}

type statusResponse struct {
	Status             subscription.Status `json:"status"`
	IsActive           bool                `json:"is_active"`
	CanAccess          bool                `json:"can_access"`
	IsInGracePeriod    bool                `json:"is_in_grace_period"`
	RemainingDays      int                 `json:"remaining_days"`
	CurrentPeriodStart time.Time           `json:"current_period_start"`
	CurrentPeriodEnd   time.Time           `json:"current_period_end"`
	BillingCycle       billing.Cycle       `json:"billing_cycle"`
	Usage              usagePayload        `json:"usage"`
	GracePeriodEnd     *time.Time          `json:"grace_period_end,omitempty"`
	TrialEnd           *time.Time          `json:"trial_end,omitempty"`
}

func (m *module) handleStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		core.WriteError(w, core.ErrUnauthorized)
		return
	}

	decision, err := m.Gate.CheckUser(r.Context(), caller.TenantID, caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	sub := decision.Subscription

	now := time.Now().UTC()
	resp := statusResponse{
		Status:             sub.Status,
		IsActive:           sub.Status == subscription.StatusActive,
		CanAccess:          decision.Allowed,
		IsInGracePeriod:    sub.IsInGracePeriod(now),
		RemainingDays:      sub.RemainingDays(now),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		BillingCycle:       sub.BillingCycle,
		Usage: usagePayload{
			DataDownloaded: sub.DataDownloaded,
			APICallsCount:  sub.APICallsCount,
			LastUsageReset: sub.LastUsageReset,
		},
		GracePeriodEnd: sub.GracePeriodEndsAt,
		TrialEnd:       sub.TrialEndsAt,
	}

	var meta map[string]any
	if gw := decision.GraceWarning; gw != nil {
		meta = map[string]any{
			"grace_period_warning":  true,
			"grace_period_end":      gw.GracePeriodEnd,
			"days_until_suspension": gw.DaysUntilSuspension,
		}
	}

	core.WriteJSON(w, http.StatusOK, resp, meta)
}

func (m *module) handleUsageHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		core.WriteError(w, core.ErrUnauthorized)
		return
	}

	sub, err := m.SubStore.GetByTenantUser(r.Context(), caller.TenantID, caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := int64(100)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	events, err := m.Tracker.History(r.Context(), sub.ID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, events, nil)
}
