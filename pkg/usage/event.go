package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a usage-history event.
type EventType string

const (
	EventDownload      EventType = "download"
	EventAPICall       EventType = "api_call"
	EventReset         EventType = "reset"
	EventAlert         EventType = "alert"
	EventLimitExceeded EventType = "limit_exceeded"
)

// ErrInvalidEvent is returned when an event is missing metadata its type
// requires. The write is refused, never silently dropped.
var ErrInvalidEvent = errors.New("invalid usage event")

// Event is one entry in the usage history. Which metadata fields are
// required depends on the type; Validate enforces that on every write.
type Event struct {
	ID             uuid.UUID `bson:"_id" json:"id"`
	TenantID       uuid.UUID `bson:"tenant_id" json:"tenant_id"`
	SubscriptionID uuid.UUID `bson:"subscription_id" json:"subscription_id"`
	UserID         uuid.UUID `bson:"user_id" json:"user_id"`
	Type           EventType `bson:"type" json:"type"`
	OccurredAt     time.Time `bson:"occurred_at" json:"occurred_at"`

	// download
	RecordCount int64  `bson:"record_count,omitempty" json:"record_count,omitempty"`
	Endpoint    string `bson:"endpoint,omitempty" json:"endpoint,omitempty"`

	// reset
	PrevDataDownloaded *int64 `bson:"prev_data_downloaded,omitempty" json:"prev_data_downloaded,omitempty"`
	PrevAPICalls       *int64 `bson:"prev_api_calls,omitempty" json:"prev_api_calls,omitempty"`

	// alert and limit_exceeded
	LimitType  LimitType  `bson:"limit_type,omitempty" json:"limit_type,omitempty"`
	Level      AlertLevel `bson:"level,omitempty" json:"level,omitempty"`
	Percentage int        `bson:"percentage,omitempty" json:"percentage,omitempty"`
	Requested  int64      `bson:"requested,omitempty" json:"requested,omitempty"`
	Limit      int64      `bson:"limit,omitempty" json:"limit,omitempty"`
	Current    int64      `bson:"current,omitempty" json:"current,omitempty"`
}

// Validate checks the type-specific required metadata.
func (e *Event) Validate() error {
	if e.SubscriptionID == uuid.Nil {
		return fmt.Errorf("%w: subscription ID is required", ErrInvalidEvent)
	}
	switch e.Type {
	case EventDownload:
		if e.RecordCount <= 0 {
			return fmt.Errorf("%w: download requires a record count", ErrInvalidEvent)
		}
		if e.Endpoint == "" {
			return fmt.Errorf("%w: download requires an endpoint", ErrInvalidEvent)
		}
	case EventAPICall:
		if e.Endpoint == "" {
			return fmt.Errorf("%w: api_call requires an endpoint", ErrInvalidEvent)
		}
	case EventReset:
		if e.PrevDataDownloaded == nil || e.PrevAPICalls == nil {
			return fmt.Errorf("%w: reset requires previous counter values", ErrInvalidEvent)
		}
	case EventAlert:
		if !e.LimitType.Valid() {
			return fmt.Errorf("%w: alert requires a limit type", ErrInvalidEvent)
		}
		if e.Level == "" {
			return fmt.Errorf("%w: alert requires a level", ErrInvalidEvent)
		}
		if e.Percentage <= 0 {
			return fmt.Errorf("%w: alert requires a percentage", ErrInvalidEvent)
		}
	case EventLimitExceeded:
		if !e.LimitType.Valid() {
			return fmt.Errorf("%w: limit_exceeded requires a limit type", ErrInvalidEvent)
		}
		if e.Requested <= 0 {
			return fmt.Errorf("%w: limit_exceeded requires the requested amount", ErrInvalidEvent)
		}
		if e.Limit == 0 {
			return fmt.Errorf("%w: limit_exceeded requires the limit", ErrInvalidEvent)
		}
		if e.Current < 0 {
			return fmt.Errorf("%w: limit_exceeded requires the current counter", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// HistoryStore persists usage events. Entries expire after a retention
// window enforced by the storage backend.
type HistoryStore interface {
	// Append validates and stores an event.
	Append(ctx context.Context, e *Event) error

	// ListBySubscription returns a subscription's events, newest first,
	// capped at limit.
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int64) ([]*Event, error)
}
