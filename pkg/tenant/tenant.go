// Package tenant provides the tenant entity, the user-store capability the
// billing core depends on, and request-scoped tenant resolution with
// TTL caching. Tenant and catalog administration live in a separate service;
// this package only reads.
package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/pkg/billing"
	"github.com/fieldbill/fieldbill/pkg/identity"
)

// DefaultPlanTier is used when a tenant record carries no plan tier.
// The legacy tier field is rarely set in practice, so nearly every approval
// resolves to this value. Documented fallback, not a bug.
const DefaultPlanTier = "standard"

// Tenant represents a customer organization with the minimal fields the
// billing core needs at request time.
type Tenant struct {
	ID        uuid.UUID                      `json:"id"`
	Subdomain string                         `json:"subdomain"`
	Name      string                         `json:"name"`
	PlanTier  string                         `json:"plan_tier,omitempty"`
	Pricing   map[billing.Cycle]billing.Money `json:"pricing,omitempty"` // expected price per plan period
	Active    bool                           `json:"active"`
	CreatedAt time.Time                      `json:"created_at"`
}

// ExpectedPrice returns the configured price for a plan period, if any.
func (t *Tenant) ExpectedPrice(cycle billing.Cycle) (billing.Money, bool) {
	price, ok := t.Pricing[cycle]
	return price, ok
}

// ResolvePlanTier returns the tenant's plan tier or the documented default.
func (t *Tenant) ResolvePlanTier() string {
	if t.PlanTier != "" {
		return t.PlanTier
	}
	return DefaultPlanTier
}

// Provider loads tenant information from a data source.
type Provider interface {
	// GetByID retrieves a tenant by its ID.
	// Returns ErrTenantNotFound if no tenant matches.
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
}

// User is a mobile user record inside a tenant's user partition.
type User struct {
	ID       uuid.UUID         `json:"id"`
	TenantID uuid.UUID         `json:"tenant_id"`
	Name     string            `json:"name"`
	Phone    string            `json:"phone"`
	Email    string            `json:"email"`
	Role     string            `json:"role"`
	UserType identity.UserType `json:"user_type"`
	Active   bool              `json:"active"`
}

// UserStore is the capability the billing core needs from the per-tenant
// user partitions. Tenant-routed schema lookup stays hidden behind it.
type UserStore interface {
	// FindUser retrieves a user by tenant, user class and ID.
	// Returns ErrUserNotFound if no user matches; callers check Active
	// themselves to distinguish 403 from 404.
	FindUser(ctx context.Context, tenantID uuid.UUID, userType identity.UserType, userID uuid.UUID) (*User, error)
}
