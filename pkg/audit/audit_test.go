package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbill/fieldbill/pkg/audit"
	"github.com/fieldbill/fieldbill/pkg/identity"
)

func TestRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	storage := audit.NewInMemoryStorage()
	logger := audit.NewLogger(storage, audit.WithClock(func() time.Time { return now }))

	actor := identity.Identity{
		TenantID: uuid.New(), UserID: uuid.New(), Role: identity.RoleTenantAdmin,
	}
	subID := uuid.New()

	type snapshot struct {
		Status string `json:"status"`
	}
	logger.Record(context.Background(), actor, "subscription.suspend", "subscription", subID,
		snapshot{Status: "active"}, snapshot{Status: "suspended"})

	events, err := logger.Trail(context.Background(), "subscription", subID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, actor.UserID, e.ActorID)
	assert.Equal(t, "tenant_admin", e.ActorRole)
	assert.Equal(t, "subscription.suspend", e.Action)
	assert.Equal(t, now, e.CreatedAt)
	assert.JSONEq(t, `{"status":"active"}`, string(e.Before))
	assert.JSONEq(t, `{"status":"suspended"}`, string(e.After))
}

type failingStorage struct{}

func (failingStorage) Insert(ctx context.Context, e *audit.Event) error {
	return errors.New("disk full")
}

func (failingStorage) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*audit.Event, error) {
	return nil, errors.New("disk full")
}

func TestRecordSwallowsStorageFailure(t *testing.T) {
	t.Parallel()

	logger := audit.NewLogger(failingStorage{})

	// Must not panic or surface the error.
	logger.Record(context.Background(), identity.Identity{}, "subscription.cancel", "subscription", uuid.New(), nil, nil)
}
