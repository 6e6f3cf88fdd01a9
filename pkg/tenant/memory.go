package tenant

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fieldbill/fieldbill/pkg/identity"
)

// InMemoryStore implements Provider and UserStore over in-process maps.
// Used in tests and single-node development setups.
type InMemoryStore struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]*Tenant
	users   map[uuid.UUID]*User
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tenants: make(map[uuid.UUID]*Tenant),
		users:   make(map[uuid.UUID]*User),
	}
}

// AddTenant registers a tenant.
func (s *InMemoryStore) AddTenant(t *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// AddUser registers a mobile user.
func (s *InMemoryStore) AddUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// RemoveUser deletes a mobile user record.
func (s *InMemoryStore) RemoveUser(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

// GetByID implements Provider.
func (s *InMemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

// FindUser implements UserStore.
func (s *InMemoryStore) FindUser(ctx context.Context, tenantID uuid.UUID, userType identity.UserType, userID uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok || u.TenantID != tenantID {
		return nil, ErrUserNotFound
	}
	if userType != "" && u.UserType != userType {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}
