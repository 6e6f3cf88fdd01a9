package subscription

import "fmt"

// Status represents the current state of a subscription.
type Status string

const (
	StatusTrial       Status = "trial"
	StatusActive      Status = "active"
	StatusGracePeriod Status = "grace_period"
	StatusPastDue     Status = "past_due"
	StatusExpired     Status = "expired"
	StatusSuspended   Status = "suspended"
	StatusCancelled   Status = "cancelled"
)

// allowedTransitions is the authoritative status state machine. Every status
// write in this package is validated against it; nothing else may decide
// whether a transition is legal.
var allowedTransitions = map[Status][]Status{
	StatusTrial:       {StatusActive, StatusCancelled, StatusExpired},
	StatusActive:      {StatusGracePeriod, StatusCancelled, StatusSuspended, StatusExpired},
	StatusGracePeriod: {StatusActive, StatusPastDue, StatusCancelled},
	StatusPastDue:     {StatusActive, StatusExpired, StatusSuspended},
	StatusExpired:     {StatusActive},
	StatusSuspended:   {StatusActive},
	StatusCancelled:   {StatusActive},
}

// CanTransition validates a status change against the state machine.
// Returns nil when allowed, or ErrInvalidTransition wrapped with a
// human-readable reason when denied. It has no side effects.
func CanTransition(from, to Status) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move from %q to %q", ErrInvalidTransition, from, to)
}

// AllowedTransitions returns the statuses reachable from the given one.
func AllowedTransitions(from Status) []Status {
	out := make([]Status, len(allowedTransitions[from]))
	copy(out, allowedTransitions[from])
	return out
}
