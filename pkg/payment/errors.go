package payment

import "errors"

var (
	// ErrNotFound is returned when no payment matches the lookup.
	ErrNotFound = errors.New("payment not found")

	// ErrInvalidPlanPeriod is returned for an unknown billing cycle.
	ErrInvalidPlanPeriod = errors.New("invalid plan period")

	// ErrInvalidTransactionID is returned when the transaction reference is
	// not alphanumeric or too short.
	ErrInvalidTransactionID = errors.New("invalid transaction reference")

	// ErrDuplicateTransaction is returned when the transaction reference was
	// already submitted, by any tenant.
	ErrDuplicateTransaction = errors.New("transaction reference already submitted")

	// ErrAmountMismatch is returned when the submitted amount falls outside
	// the tolerance around the tenant's configured price.
	ErrAmountMismatch = errors.New("amount does not match the configured plan price")

	// ErrAlreadyProcessed is returned when approving or rejecting a payment
	// that is no longer pending.
	ErrAlreadyProcessed = errors.New("payment already processed")

	// ErrValidation is returned for malformed operation input.
	ErrValidation = errors.New("invalid payment input")
)
