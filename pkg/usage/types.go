// Package usage meters downloads and API calls against per-period limits,
// keeps an auditable event history and evaluates alert thresholds.
package usage

import "errors"

// Unlimited is the sentinel limit value that disables enforcement.
const Unlimited int64 = -1

// LimitType identifies which metered counter a limit applies to.
type LimitType string

const (
	LimitDataDownload LimitType = "data_download"
	LimitAPICall      LimitType = "api_call"
)

// Valid reports whether the limit type is known.
func (t LimitType) Valid() bool {
	return t == LimitDataDownload || t == LimitAPICall
}

// AlertLevel grades how close a counter is to its limit.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"  // 80%
	AlertCritical AlertLevel = "critical" // 90%
	AlertExceeded AlertLevel = "exceeded" // 100%
)

// Alert thresholds as percentages of the applicable limit.
const (
	WarningThreshold  = 80
	CriticalThreshold = 90
	ExceededThreshold = 100
)

// Limits is the per-period ceiling set for one user class.
type Limits struct {
	DataDownloads int64 `yaml:"data_downloads"`
	APICalls      int64 `yaml:"api_calls"`
}

// For returns the limit value for a limit type.
func (l Limits) For(t LimitType) int64 {
	switch t {
	case LimitDataDownload:
		return l.DataDownloads
	case LimitAPICall:
		return l.APICalls
	}
	return Unlimited
}

// CheckResult is the outcome of a read-only pre-flight limit check.
// Remaining is Unlimited when no ceiling applies.
type CheckResult struct {
	Allowed   bool  `json:"allowed"`
	Limit     int64 `json:"limit"`
	Current   int64 `json:"current"`
	Remaining int64 `json:"remaining"`
}

// Alert is raised when a counter crosses a threshold. Percentage is the
// counter's share of the limit after the increment.
type Alert struct {
	LimitType  LimitType  `json:"limit_type"`
	Level      AlertLevel `json:"level"`
	Percentage int        `json:"percentage"`
	Current    int64      `json:"current"`
	Limit      int64      `json:"limit"`
	Remaining  int64      `json:"remaining"`
}

// ErrLimitExceeded is returned when a tracked increment would pass the
// limit.
var ErrLimitExceeded = errors.New("usage limit exceeded")

// ErrUnknownLimitType is returned for a limit type outside the known set.
var ErrUnknownLimitType = errors.New("unknown limit type")

// LevelFor maps a usage percentage to an alert level, or "" when below
// every threshold.
func LevelFor(percentage int) AlertLevel {
	switch {
	case percentage >= ExceededThreshold:
		return AlertExceeded
	case percentage >= CriticalThreshold:
		return AlertCritical
	case percentage >= WarningThreshold:
		return AlertWarning
	}
	return ""
}
