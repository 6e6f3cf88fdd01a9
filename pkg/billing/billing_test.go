package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbill/fieldbill/pkg/billing"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextPeriodEnd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		start time.Time
		cycle billing.Cycle
		want  time.Time
	}{
		{"weekly", date(2024, 6, 3), billing.CycleWeekly, date(2024, 6, 10)},
		{"monthly plain", date(2024, 1, 1), billing.CycleMonthly, date(2024, 1, 31)},
		{"monthly clamp leap year", date(2024, 1, 30), billing.CycleMonthly, date(2024, 2, 28)},
		{"monthly clamp day 29", date(2024, 3, 29), billing.CycleMonthly, date(2024, 4, 28)},
		{"monthly day 28 not clamped", date(2024, 1, 28), billing.CycleMonthly, date(2024, 2, 27)},
		{"quarterly", date(2024, 1, 1), billing.CycleQuarterly, date(2024, 3, 31)},
		{"yearly", date(2024, 1, 1), billing.CycleYearly, date(2024, 12, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := billing.NextPeriodEnd(tt.start, tt.cycle)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		start := date(2024, 5, 31)
		first, err := billing.NextPeriodEnd(start, billing.CycleMonthly)
		require.NoError(t, err)
		second, err := billing.NextPeriodEnd(start, billing.CycleMonthly)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("unknown cycle", func(t *testing.T) {
		t.Parallel()

		_, err := billing.NextPeriodEnd(date(2024, 1, 1), billing.Cycle("biweekly"))
		assert.ErrorIs(t, err, billing.ErrUnknownCycle)
	})
}

func TestParseCycle(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"weekly", "monthly", "quarterly", "yearly"} {
		c, err := billing.ParseCycle(s)
		require.NoError(t, err)
		assert.Equal(t, billing.Cycle(s), c)
	}

	_, err := billing.ParseCycle("daily")
	assert.ErrorIs(t, err, billing.ErrUnknownCycle)
}
