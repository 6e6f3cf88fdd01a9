// Package billing exposes the subscription and payment workflows over HTTP:
// payment-proof submission and review, the subscription status query, and
// the admin lifecycle endpoints.
package billing

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/fieldbill/fieldbill/pkg/accessgate"
	"github.com/fieldbill/fieldbill/pkg/audit"
	"github.com/fieldbill/fieldbill/pkg/payment"
	"github.com/fieldbill/fieldbill/pkg/screenshot"
	"github.com/fieldbill/fieldbill/pkg/subscription"
	"github.com/fieldbill/fieldbill/pkg/usage"
)

// Deps are the collaborators the billing module needs.
type Deps struct {
	Payments      *payment.Service
	Subscriptions *subscription.Service
	SubStore      subscription.Store
	Gate          *accessgate.Gate
	Tracker       *usage.Tracker
	Audit         *audit.Logger
	Screenshots   *screenshot.Store // optional; enables proof image uploads
	Log           *slog.Logger
}

type module struct {
	Deps
}

// Router mounts the billing endpoints. Callers wrap it with the identity
// middleware; the module only assumes an identity is present on the
// context.
func Router(deps Deps) chi.Router {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	m := &module{Deps: deps}

	r := chi.NewRouter()

	// Mobile-facing endpoints.
	r.Post("/payments", m.handleSubmitPayment)
	r.Get("/payments", m.handleListPayments)
	if deps.Screenshots != nil {
		r.Post("/payments/screenshot", m.handleUploadScreenshot)
	}
	r.Get("/status", m.handleStatus)

	// Usage history is a data route: gated, unlike /status and /payments
	// which must stay reachable so a lapsed user can pay their way back in.
	r.With(accessgate.Middleware(deps.Gate)).Get("/usage/history", m.handleUsageHistory)

	// Admin endpoints.
	r.Route("/admin", func(r chi.Router) {
		r.Use(m.requireAdmin)

		r.Post("/payments/{paymentID}/approve", m.handleApprovePayment)
		r.Post("/payments/{paymentID}/reject", m.handleRejectPayment)

		r.Post("/subscriptions", m.handleCreateSubscription)
		r.Post("/subscriptions/bulk/{action}", m.handleBulkLifecycle)
		r.Route("/subscriptions/{subscriptionID}", func(r chi.Router) {
			r.Post("/renew", m.handleRenew)
			r.Post("/reactivate", m.handleReactivate)
			r.Post("/cancel", m.handleCancel)
			r.Post("/suspend", m.handleSuspend)
			r.Post("/extend-trial", m.handleExtendTrial)
			r.Post("/usage/reset", m.handleResetUsage)
			r.Get("/audit", m.handleAuditTrail)
		})
	})

	return r
}
