package tenant

import "errors"

var (
	// ErrTenantNotFound is returned when a tenant cannot be found.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrInactiveTenant is returned when trying to use an inactive tenant.
	ErrInactiveTenant = errors.New("tenant is inactive")

	// ErrUserNotFound is returned when a mobile user cannot be found in the
	// tenant's user partition.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserInactive is returned when the mobile user exists but is
	// deactivated.
	ErrUserInactive = errors.New("user is not active")
)
