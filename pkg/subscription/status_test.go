package subscription_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbill/fieldbill/pkg/subscription"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	all := []subscription.Status{
		subscription.StatusTrial,
		subscription.StatusActive,
		subscription.StatusGracePeriod,
		subscription.StatusPastDue,
		subscription.StatusExpired,
		subscription.StatusSuspended,
		subscription.StatusCancelled,
	}

	allowed := map[subscription.Status][]subscription.Status{
		subscription.StatusTrial:       {subscription.StatusActive, subscription.StatusCancelled, subscription.StatusExpired},
		subscription.StatusActive:      {subscription.StatusGracePeriod, subscription.StatusCancelled, subscription.StatusSuspended, subscription.StatusExpired},
		subscription.StatusGracePeriod: {subscription.StatusActive, subscription.StatusPastDue, subscription.StatusCancelled},
		subscription.StatusPastDue:     {subscription.StatusActive, subscription.StatusExpired, subscription.StatusSuspended},
		subscription.StatusExpired:     {subscription.StatusActive},
		subscription.StatusSuspended:   {subscription.StatusActive},
		subscription.StatusCancelled:   {subscription.StatusActive},
	}

	isAllowed := func(from, to subscription.Status) bool {
		for _, next := range allowed[from] {
			if next == to {
				return true
			}
		}
		return false
	}

	for _, from := range all {
		for _, to := range all {
			from, to := from, to
			t.Run(string(from)+"_to_"+string(to), func(t *testing.T) {
				t.Parallel()

				err := subscription.CanTransition(from, to)
				if isAllowed(from, to) {
					assert.NoError(t, err)
				} else {
					require.Error(t, err)
					assert.ErrorIs(t, err, subscription.ErrInvalidTransition)
				}
			})
		}
	}
}

func TestCanTransitionUnknownStatus(t *testing.T) {
	t.Parallel()

	err := subscription.CanTransition(subscription.Status("bogus"), subscription.StatusActive)
	assert.ErrorIs(t, err, subscription.ErrInvalidTransition)
}

func TestAllowedTransitions(t *testing.T) {
	t.Parallel()

	got := subscription.AllowedTransitions(subscription.StatusGracePeriod)
	assert.ElementsMatch(t, []subscription.Status{
		subscription.StatusActive,
		subscription.StatusPastDue,
		subscription.StatusCancelled,
	}, got)

	// Returned slice is a copy; mutating it must not poison the table.
	if len(got) > 0 {
		got[0] = subscription.StatusSuspended
	}
	assert.ErrorIs(t,
		subscription.CanTransition(subscription.StatusGracePeriod, subscription.StatusSuspended),
		subscription.ErrInvalidTransition)
}
