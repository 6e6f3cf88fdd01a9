// Package audit records admin mutations on billing entities. Every admin
// lifecycle or approval action logs the actor, the action and before/after
// snapshots of the fields it touched.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/pkg/identity"
)

// Event is one audit trail entry.
type Event struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	ActorRole string    `json:"actor_role"`

	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`

	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Storage persists audit events.
type Storage interface {
	Insert(ctx context.Context, e *Event) error

	// ListByEntity returns an entity's audit trail, newest first.
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*Event, error)
}

// Logger writes audit events. Audit failures are logged and swallowed; the
// trail must never fail the operation it describes.
type Logger struct {
	storage Storage
	log     *slog.Logger
	now     func() time.Time
}

// Option configures the Logger.
type Option func(*Logger)

// WithLogger sets the structured logger for audit write failures.
func WithLogger(log *slog.Logger) Option {
	return func(l *Logger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger creates an audit logger over the given storage.
func NewLogger(storage Storage, opts ...Option) *Logger {
	if storage == nil {
		panic("audit: storage is required")
	}
	l := &Logger{
		storage: storage,
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record logs an admin action with optional before/after snapshots. The
// snapshots are marshalled as-is; pass trimmed snapshot structs, not whole
// entities, to keep the trail readable.
func (l *Logger) Record(ctx context.Context, actor identity.Identity, action, entityType string, entityID uuid.UUID, before, after any) {
	e := &Event{
		ID:         uuid.New(),
		TenantID:   actor.TenantID,
		ActorID:    actor.UserID,
		ActorRole:  string(actor.Role),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		CreatedAt:  l.now(),
	}

	var err error
	if before != nil {
		if e.Before, err = json.Marshal(before); err != nil {
			l.log.ErrorContext(ctx, "audit: failed to marshal before snapshot", "action", action, "error", err)
		}
	}
	if after != nil {
		if e.After, err = json.Marshal(after); err != nil {
			l.log.ErrorContext(ctx, "audit: failed to marshal after snapshot", "action", action, "error", err)
		}
	}

	if err := l.storage.Insert(ctx, e); err != nil {
		l.log.ErrorContext(ctx, "audit: failed to record event",
			"action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}

// Trail returns an entity's audit events, newest first.
func (l *Logger) Trail(ctx context.Context, entityType string, entityID uuid.UUID) ([]*Event, error) {
	events, err := l.storage.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("load audit trail: %w", err)
	}
	return events, nil
}
