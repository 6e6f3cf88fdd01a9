package tenant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldbill/fieldbill/pkg/billing"
	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/pg"
)

// PostgresStore reads tenants and their mobile users from the read-model
// tables the control-plane service replicates into. It implements both
// Provider and UserStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	var (
		t          Tenant
		pricingRaw []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, subdomain, name, plan_tier, pricing, active, created_at
		FROM tenants
		WHERE id = $1`, id,
	).Scan(&t.ID, &t.Subdomain, &t.Name, &t.PlanTier, &pricingRaw, &t.Active, &t.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}

	if len(pricingRaw) > 0 {
		pricing := make(map[billing.Cycle]billing.Money)
		if err := json.Unmarshal(pricingRaw, &pricing); err != nil {
			return nil, fmt.Errorf("decode tenant pricing: %w", err)
		}
		t.Pricing = pricing
	}

	return &t, nil
}

func (s *PostgresStore) FindUser(ctx context.Context, tenantID uuid.UUID, userType identity.UserType, userID uuid.UUID) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, phone, email, role, user_type, active
		FROM tenant_users
		WHERE tenant_id = $1 AND user_type = $2 AND id = $3`,
		tenantID, string(userType), userID,
	).Scan(&u.ID, &u.TenantID, &u.Name, &u.Phone, &u.Email, &u.Role, &u.UserType, &u.Active)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find tenant user: %w", err)
	}
	return &u, nil
}
