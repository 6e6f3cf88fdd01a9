package accessgate

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldbill/fieldbill/core"
	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/subscription"
)

// Response headers announcing grace-period state on allowed requests.
const (
	HeaderGraceWarning        = "X-Grace-Period-Warning"
	HeaderGraceEnd            = "X-Grace-Period-End"
	HeaderDaysUntilSuspension = "X-Days-Until-Suspension"
)

// Response headers announcing a metered counter near its limit on allowed
// requests.
const (
	HeaderUsageApproaching = "X-Usage-Approaching-Limit"
	HeaderUsageRemaining   = "X-Usage-Remaining"
	HeaderUsagePercentage  = "X-Usage-Percentage"
)

// Middleware blocks requests whose caller has no access-granting
// subscription. Denials are written as typed 402 errors; a missing
// subscription is a 404 unless the caller is a super-admin, who bypasses
// the gate entirely.
func Middleware(gate *Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := identity.FromContext(r.Context())
			if !ok {
				core.WriteError(w, core.ErrUnauthorized)
				return
			}

			decision, err := gate.Check(r.Context(), caller)
			if err != nil {
				if errors.Is(err, subscription.ErrNotFound) {
					core.WriteError(w, core.ErrNotFound)
					return
				}
				core.WriteError(w, err)
				return
			}

			if !decision.Allowed {
				core.WriteError(w, HTTPErrorFor(decision.Denial))
				return
			}

			if gw := decision.GraceWarning; gw != nil {
				w.Header().Set(HeaderGraceWarning, "true")
				w.Header().Set(HeaderGraceEnd, gw.GracePeriodEnd.Format(time.RFC3339))
				w.Header().Set(HeaderDaysUntilSuspension, strconv.Itoa(gw.DaysUntilSuspension))
			}

			if uw := decision.UsageWarning; uw != nil {
				w.Header().Set(HeaderUsageApproaching, string(uw.LimitType))
				w.Header().Set(HeaderUsageRemaining, strconv.FormatInt(uw.Remaining, 10))
				w.Header().Set(HeaderUsagePercentage, strconv.Itoa(uw.Percentage))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HTTPErrorFor maps a denial to its API error.
func HTTPErrorFor(d *Denial) core.HTTPError {
	if d == nil {
		return core.ErrSubscriptionInactive
	}
	switch d.Reason {
	case DenialExpired:
		return core.ErrSubscriptionExpired
	case DenialSuspended:
		return core.ErrSubscriptionSuspended
	case DenialCancelled:
		return core.ErrSubscriptionCancelled
	case DenialPastDue:
		return core.ErrSubscriptionPastDue
	default:
		return core.ErrSubscriptionInactive
	}
}
