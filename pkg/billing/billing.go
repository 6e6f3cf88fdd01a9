// Package billing holds the billing-period arithmetic shared by the
// subscription lifecycle and payment workflows.
package billing

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownCycle is returned for a billing cycle outside the known set.
var ErrUnknownCycle = errors.New("unknown billing cycle")

// Money represents a monetary amount in the smallest currency unit.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"` // ISO 4217 code
}

// Cycle represents the recurring period length a subscription is sold in.
type Cycle string

const (
	CycleWeekly    Cycle = "weekly"
	CycleMonthly   Cycle = "monthly"
	CycleQuarterly Cycle = "quarterly"
	CycleYearly    Cycle = "yearly"
)

// Valid reports whether the cycle is one of the known billing cycles.
func (c Cycle) Valid() bool {
	switch c {
	case CycleWeekly, CycleMonthly, CycleQuarterly, CycleYearly:
		return true
	}
	return false
}

// ParseCycle converts a string into a Cycle, rejecting unknown values.
func ParseCycle(s string) (Cycle, error) {
	c := Cycle(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCycle, s)
	}
	return c, nil
}

// NextPeriodEnd maps a period start and a billing cycle to the period end.
//
// Periods are duration-based, not calendar-anchored: monthly is start+30d
// with the result's day-of-month forced to 28 whenever the start falls past
// the 28th. The clamp compounds differently across month lengths and leap
// years; downstream invoice expectations depend on it, so it is preserved
// as-is. Pure and deterministic; an unknown cycle is an error.
func NextPeriodEnd(start time.Time, cycle Cycle) (time.Time, error) {
	switch cycle {
	case CycleWeekly:
		return start.Add(7 * 24 * time.Hour), nil
	case CycleMonthly:
		end := start.Add(30 * 24 * time.Hour)
		if start.Day() > 28 {
			end = time.Date(end.Year(), end.Month(), 28,
				end.Hour(), end.Minute(), end.Second(), end.Nanosecond(), end.Location())
		}
		return end, nil
	case CycleQuarterly:
		return start.Add(90 * 24 * time.Hour), nil
	case CycleYearly:
		return start.Add(365 * 24 * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownCycle, cycle)
	}
}
