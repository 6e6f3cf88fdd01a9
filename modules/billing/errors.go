package billing

import (
	"errors"
	"net/http"

	"github.com/fieldbill/fieldbill/core"
	"github.com/fieldbill/fieldbill/pkg/payment"
	"github.com/fieldbill/fieldbill/pkg/screenshot"
	"github.com/fieldbill/fieldbill/pkg/subscription"
	"github.com/fieldbill/fieldbill/pkg/tenant"
	"github.com/fieldbill/fieldbill/pkg/usage"
)

// mapError translates domain errors into the API error taxonomy. Anything
// unmapped falls through to WriteError's opaque 500.
func mapError(err error) error {
	switch {
	case errors.Is(err, payment.ErrInvalidPlanPeriod):
		return core.ErrInvalidPlanPeriod
	case errors.Is(err, payment.ErrInvalidTransactionID):
		return core.ErrInvalidTransactionID
	case errors.Is(err, payment.ErrDuplicateTransaction):
		return core.ErrDuplicateTransaction
	case errors.Is(err, payment.ErrAmountMismatch):
		return core.ErrAmountMismatch
	case errors.Is(err, payment.ErrAlreadyProcessed):
		return core.ErrAlreadyProcessed
	case errors.Is(err, payment.ErrValidation):
		return core.ErrValidation
	case errors.Is(err, payment.ErrNotFound):
		return core.ErrNotFound

	case errors.Is(err, subscription.ErrNotFound):
		return core.ErrNotFound
	case errors.Is(err, subscription.ErrAlreadyExists):
		return core.NewHTTPError(http.StatusConflict, "subscription_already_exists")
	case errors.Is(err, subscription.ErrInvalidState):
		return core.ErrInvalidState
	case errors.Is(err, subscription.ErrInvalidTransition):
		return core.ErrInvalidTransition
	case errors.Is(err, subscription.ErrConcurrentUpdate):
		return core.ErrConflict
	case errors.Is(err, subscription.ErrValidation):
		return core.ErrValidation

	case errors.Is(err, tenant.ErrUserNotFound):
		return core.ErrNotFound
	case errors.Is(err, tenant.ErrUserInactive):
		return core.ErrUserNotActive
	case errors.Is(err, tenant.ErrTenantNotFound):
		return core.ErrNotFound

	case errors.Is(err, usage.ErrLimitExceeded):
		return core.ErrUsageLimitExceeded
	case errors.Is(err, usage.ErrInvalidEvent), errors.Is(err, usage.ErrUnknownLimitType):
		return core.ErrValidation

	case errors.Is(err, screenshot.ErrNotImage):
		return core.ValidationError{"screenshot": {"file must be an image"}}
	case errors.Is(err, screenshot.ErrTooLarge):
		return core.ValidationError{"screenshot": {"file exceeds the size limit"}}
	}
	return err
}

func writeError(w http.ResponseWriter, err error) {
	core.WriteError(w, mapError(err))
}
