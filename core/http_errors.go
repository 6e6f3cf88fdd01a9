package core

import "net/http"

// HTTPError represents an HTTP error with a status code and a stable,
// client-actionable error key. Keys are part of the API contract: mobile
// clients switch on them to drive paywall and retry behavior.
type HTTPError struct {
	Code int    // HTTP status code
	Key  string // stable error key (e.g., "duplicate_transaction")
}

// Error implements the error interface.
func (e HTTPError) Error() string {
	return e.Key
}

// Generic errors shared across modules.
var (
	ErrBadRequest          = HTTPError{Code: http.StatusBadRequest, Key: "bad_request"}
	ErrUnauthorized        = HTTPError{Code: http.StatusUnauthorized, Key: "unauthorized"}
	ErrForbidden           = HTTPError{Code: http.StatusForbidden, Key: "forbidden"}
	ErrNotFound            = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	ErrConflict            = HTTPError{Code: http.StatusConflict, Key: "conflict"}
	ErrUnprocessableEntity = HTTPError{Code: http.StatusUnprocessableEntity, Key: "validation_error"}
	ErrTooManyRequests     = HTTPError{Code: http.StatusTooManyRequests, Key: "too_many_requests"}
	ErrInternalServerError = HTTPError{Code: http.StatusInternalServerError, Key: "internal_error"}
)

// Billing-domain errors. 402 is reserved for subscription-access denials so
// clients can distinguish "pay up" from plain authorization failures.
var (
	ErrValidation            = HTTPError{Code: http.StatusBadRequest, Key: "validation_error"}
	ErrInvalidPlanPeriod     = HTTPError{Code: http.StatusBadRequest, Key: "invalid_plan_period"}
	ErrInvalidTransactionID  = HTTPError{Code: http.StatusBadRequest, Key: "invalid_transaction_id"}
	ErrDuplicateTransaction  = HTTPError{Code: http.StatusConflict, Key: "duplicate_transaction"}
	ErrAmountMismatch        = HTTPError{Code: http.StatusBadRequest, Key: "amount_mismatch"}
	ErrUserNotActive         = HTTPError{Code: http.StatusForbidden, Key: "user_not_active"}
	ErrAlreadyProcessed      = HTTPError{Code: http.StatusBadRequest, Key: "already_processed"}
	ErrInvalidState          = HTTPError{Code: http.StatusBadRequest, Key: "invalid_state"}
	ErrInvalidTransition     = HTTPError{Code: http.StatusBadRequest, Key: "invalid_transition"}
	ErrSubscriptionExpired   = HTTPError{Code: http.StatusPaymentRequired, Key: "subscription_expired"}
	ErrSubscriptionSuspended = HTTPError{Code: http.StatusPaymentRequired, Key: "subscription_suspended"}
	ErrSubscriptionCancelled = HTTPError{Code: http.StatusPaymentRequired, Key: "subscription_cancelled"}
	ErrSubscriptionPastDue   = HTTPError{Code: http.StatusPaymentRequired, Key: "subscription_past_due"}
	ErrSubscriptionInactive  = HTTPError{Code: http.StatusPaymentRequired, Key: "subscription_inactive"}
	ErrUsageLimitExceeded    = HTTPError{Code: http.StatusTooManyRequests, Key: "usage_limit_exceeded"}
)

// NewHTTPError creates a custom HTTP error with the given status code and key.
func NewHTTPError(code int, key string) HTTPError {
	return HTTPError{Code: code, Key: key}
}
