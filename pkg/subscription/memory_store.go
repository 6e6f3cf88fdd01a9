package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore implements Store over in-process maps. It enforces the same
// invariants as the postgres store (pair uniqueness, guarded updates, atomic
// counter increments) so tests exercise identical semantics.
type InMemoryStore struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*Subscription
	byPair map[[2]uuid.UUID]uuid.UUID
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[uuid.UUID]*Subscription),
		byPair: make(map[[2]uuid.UUID]uuid.UUID),
	}
}

func pairKey(tenantID, userID uuid.UUID) [2]uuid.UUID {
	return [2]uuid.UUID{tenantID, userID}
}

// syncLegacy mirrors CurrentPeriodEnd onto the legacy EndDate column, the
// same hook the postgres store applies on every save.
func syncLegacy(sub *Subscription) {
	if !sub.CurrentPeriodEnd.IsZero() {
		sub.EndDate = sub.CurrentPeriodEnd
	}
}

func (s *InMemoryStore) Create(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(sub.TenantID, sub.UserID)
	if _, exists := s.byPair[key]; exists {
		return ErrAlreadyExists
	}

	cp := *sub
	syncLegacy(&cp)
	s.byID[cp.ID] = &cp
	s.byPair[key] = cp.ID
	*sub = cp
	return nil
}

func (s *InMemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *InMemoryStore) GetByTenantUser(ctx context.Context, tenantID, userID uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPair[pairKey(tenantID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *InMemoryStore) Update(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[sub.ID]; !ok {
		return ErrNotFound
	}
	cp := *sub
	syncLegacy(&cp)
	s.byID[cp.ID] = &cp
	*sub = cp
	return nil
}

func (s *InMemoryStore) UpdateGuarded(ctx context.Context, sub *Subscription, expectedPeriodEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[sub.ID]
	if !ok {
		return ErrNotFound
	}
	if !stored.CurrentPeriodEnd.Equal(expectedPeriodEnd) {
		return ErrConcurrentUpdate
	}
	cp := *sub
	syncLegacy(&cp)
	s.byID[cp.ID] = &cp
	*sub = cp
	return nil
}

func (s *InMemoryStore) AddUsage(ctx context.Context, id uuid.UUID, dataDownloaded, apiCalls int64) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	stored.DataDownloaded += dataDownloaded
	stored.APICallsCount += apiCalls
	stored.UpdatedAt = time.Now().UTC()
	cp := *stored
	return &cp, nil
}

func (s *InMemoryStore) ListCancellationsDue(ctx context.Context, now time.Time) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Subscription
	for _, sub := range s.byID {
		if sub.CancelAtPeriodEnd && sub.Status != StatusCancelled && !sub.CurrentPeriodEnd.After(now) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListGraceLapsed(ctx context.Context, now time.Time) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Subscription
	for _, sub := range s.byID {
		if sub.Status == StatusGracePeriod && sub.GracePeriodEndsAt != nil && !sub.GracePeriodEndsAt.After(now) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// KeyedMutex is an in-process Locker keyed by string. It provides the same
// serialization guarantee as the distributed locker for single-node
// deployments and tests.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Acquire implements Locker.
func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}
