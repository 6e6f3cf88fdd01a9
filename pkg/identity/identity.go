// Package identity carries the already-authenticated caller context through
// requests. Token issuance and verification happen in the auth collaborator;
// this service only consumes the verified result.
package identity

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// UserType is the class of a mobile user within a tenant.
type UserType string

const (
	UserTypeRepoAgent   UserType = "repo_agent"
	UserTypeOfficeStaff UserType = "office_staff"
	UserTypeOther       UserType = "other"
)

// Valid reports whether the user type is one of the known classes.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeRepoAgent, UserTypeOfficeStaff, UserTypeOther:
		return true
	}
	return false
}

// Role is the authorization role of the caller.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleMember      Role = "member"
)

// Identity is the verified caller context.
type Identity struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	UserType UserType
	Role     Role
}

// IsSuperAdmin reports whether the caller may act across tenants.
func (i Identity) IsSuperAdmin() bool {
	return i.Role == RoleSuperAdmin
}

// IsAdmin reports whether the caller may perform admin mutations.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleSuperAdmin || i.Role == RoleTenantAdmin
}

// CanManageTenant reports whether the caller may mutate the given tenant.
// Super-admins manage any tenant, tenant-admins only their own.
func (i Identity) CanManageTenant(tenantID uuid.UUID) bool {
	if i.Role == RoleSuperAdmin {
		return true
	}
	return i.Role == RoleTenantAdmin && i.TenantID == tenantID
}

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// WithIdentity adds the caller identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext retrieves the caller identity from the context.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// LoggerExtractor injects the caller's tenant ID into every log record.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := FromContext(ctx); ok {
			return slog.String("tenant_id", id.TenantID.String()), true
		}
		return slog.Attr{}, false
	}
}
