package subscription

import "errors"

var (
	// ErrNotFound is returned when no subscription matches the lookup.
	ErrNotFound = errors.New("subscription not found")

	// ErrAlreadyExists is returned when creating a subscription for a
	// (tenant, user) pair that already has one.
	ErrAlreadyExists = errors.New("subscription already exists for this user")

	// ErrInvalidState is returned when an operation's status precondition
	// is not met.
	ErrInvalidState = errors.New("operation not permitted in current subscription state")

	// ErrInvalidTransition is returned when a status change is denied by
	// the state machine.
	ErrInvalidTransition = errors.New("invalid subscription status transition")

	// ErrConcurrentUpdate is returned when a guarded save loses a race
	// against another writer.
	ErrConcurrentUpdate = errors.New("subscription was modified concurrently")

	// ErrValidation is returned for malformed operation input.
	ErrValidation = errors.New("invalid subscription input")
)
