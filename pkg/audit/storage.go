package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InMemoryStorage implements Storage in process, for tests and single-node
// development setups.
type InMemoryStorage struct {
	mu     sync.Mutex
	events []*Event
}

// NewInMemoryStorage returns an empty InMemoryStorage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{}
}

// Insert implements Storage.
func (s *InMemoryStorage) Insert(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

// ListByEntity implements Storage.
func (s *InMemoryStorage) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for _, e := range s.events {
		if e.EntityType == entityType && e.EntityID == entityID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// PostgresStorage implements Storage over a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a PostgresStorage.
func NewPostgresStorage(pool *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

// Insert implements Storage.
func (s *PostgresStorage) Insert(ctx context.Context, e *Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, tenant_id, actor_id, actor_role, action, entity_type, entity_id, before, after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.TenantID, e.ActorID, e.ActorRole, e.Action, e.EntityType, e.EntityID, e.Before, e.After, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByEntity implements Storage.
func (s *PostgresStorage) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, actor_id, actor_role, action, entity_type, entity_id, before, after, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ActorID, &e.ActorRole, &e.Action,
			&e.EntityType, &e.EntityID, &e.Before, &e.After, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
