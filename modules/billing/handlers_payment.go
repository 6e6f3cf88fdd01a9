package billing

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/core"
	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/payment"
	"github.com/fieldbill/fieldbill/pkg/screenshot"
)

type submitPaymentRequest struct {
	PlanPeriod    string `json:"plan_period"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
	Notes         string `json:"notes,omitempty"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
}

func (m *module) handleSubmitPayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		core.WriteError(w, core.ErrUnauthorized)
		return
	}

	var req submitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}

	pay, err := m.Payments.Submit(r.Context(), caller, payment.SubmitParams{
		PlanPeriod:    req.PlanPeriod,
		Amount:        req.Amount,
		Currency:      req.Currency,
		TransactionID: req.TransactionID,
		Notes:         req.Notes,
		ScreenshotURL: req.ScreenshotURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	core.WriteJSON(w, http.StatusCreated, pay, nil)
}

// handleUploadScreenshot accepts the proof image ahead of the payment
// submission; the returned URL goes into the screenshot_url field.
func (m *module) handleUploadScreenshot(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		core.WriteError(w, core.ErrUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(screenshot.MaxProofSize); err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}
	fhs := r.MultipartForm.File["screenshot"]
	if len(fhs) == 0 {
		core.WriteError(w, core.ValidationError{"screenshot": {"file is required"}})
		return
	}

	url, err := m.Screenshots.SaveProof(r.Context(), caller.TenantID, fhs[0])
	if err != nil {
		writeError(w, err)
		return
	}

	core.WriteJSON(w, http.StatusCreated, map[string]string{"screenshot_url": url}, nil)
}

func (m *module) handleListPayments(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		core.WriteError(w, core.ErrUnauthorized)
		return
	}

	payments, err := m.Payments.ListForUser(r.Context(), caller.TenantID, caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, payments, nil)
}

type approvePaymentRequest struct {
	MobileUserID  *uuid.UUID `json:"mobile_user_id,omitempty"`
	ApprovalNotes string     `json:"approval_notes,omitempty"`
}

type approvePaymentResponse struct {
	Payment      *payment.Payment `json:"payment"`
	Subscription any              `json:"subscription,omitempty"`
	Action       payment.Action   `json:"action"`
	Invoice      string           `json:"invoice,omitempty"`
}

func (m *module) handleApprovePayment(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}

	var req approvePaymentRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			core.WriteError(w, core.ErrBadRequest)
			return
		}
	}

	pay, err := m.Payments.Get(r.Context(), paymentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !caller.CanManageTenant(pay.TenantID) {
		core.WriteError(w, core.ErrForbidden)
		return
	}

	res, err := m.Payments.Approve(r.Context(), caller, paymentID, payment.ApproveParams{
		MobileUserID:  req.MobileUserID,
		ApprovalNotes: req.ApprovalNotes,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	m.Audit.Record(r.Context(), caller, "payment.approve", "payment", paymentID,
		paymentSnapshot(pay), paymentSnapshot(res.Payment))

	core.WriteJSON(w, http.StatusOK, approvePaymentResponse{
		Payment:      res.Payment,
		Subscription: res.Subscription,
		Action:       res.Action,
		Invoice:      res.Invoice,
	}, nil)
}

type rejectPaymentRequest struct {
	RejectionReason string `json:"rejection_reason"`
}

func (m *module) handleRejectPayment(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}

	var req rejectPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteError(w, core.ErrBadRequest)
		return
	}

	pay, err := m.Payments.Get(r.Context(), paymentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !caller.CanManageTenant(pay.TenantID) {
		core.WriteError(w, core.ErrForbidden)
		return
	}

	rejected, err := m.Payments.Reject(r.Context(), caller, paymentID, req.RejectionReason)
	if err != nil {
		writeError(w, err)
		return
	}

	m.Audit.Record(r.Context(), caller, "payment.reject", "payment", paymentID,
		paymentSnapshot(pay), paymentSnapshot(rejected))

	core.WriteJSON(w, http.StatusOK, rejected, nil)
}

// paymentSnapshot trims a payment to the fields an audit reader cares
// about.
func paymentSnapshot(p *payment.Payment) map[string]any {
	return map[string]any{
		"status":           p.Status,
		"transaction_id":   p.TransactionID,
		"amount":           p.Amount,
		"plan_period":      p.PlanPeriod,
		"invoice_number":   p.InvoiceNumber,
		"rejection_reason": p.RejectionReason,
		"retry_reason":     p.RetryReason,
	}
}
