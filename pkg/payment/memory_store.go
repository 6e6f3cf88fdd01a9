package payment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore implements Store over in-process maps with the same
// uniqueness semantics as the postgres store.
type InMemoryStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*Payment
	byTx map[string]uuid.UUID
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID: make(map[uuid.UUID]*Payment),
		byTx: make(map[string]uuid.UUID),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTx[p.TransactionID]; exists {
		return ErrDuplicateTransaction
	}
	cp := *p
	s.byID[cp.ID] = &cp
	s.byTx[cp.TransactionID] = cp.ID
	return nil
}

func (s *InMemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) TransactionExists(ctx context.Context, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.byTx[transactionID]
	return ok, nil
}

func (s *InMemoryStore) Update(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	s.byID[cp.ID] = &cp
	return nil
}

func (s *InMemoryStore) UpdateFromPending(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[p.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != StatusPending {
		return fmt.Errorf("%w: payment is %q", ErrAlreadyProcessed, cur.Status)
	}
	cp := *p
	s.byID[cp.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListByTenantUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Payment
	for _, p := range s.byID {
		if p.TenantID != tenantID {
			continue
		}
		if p.Submitter == nil || p.Submitter.UserID != userID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListRetryDue(ctx context.Context, now time.Time) ([]*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Payment
	for _, p := range s.byID {
		if p.NeedsReconcile() && p.NextRetryAt != nil && !p.NextRetryAt.After(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListScreenshotPurgeDue(ctx context.Context, now time.Time) ([]*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Payment
	for _, p := range s.byID {
		if p.ScreenshotURL != "" && p.ScreenshotDeleteAt != nil && !p.ScreenshotDeleteAt.After(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InMemoryInvoiceSequence implements InvoiceSequence in process.
type InMemoryInvoiceSequence struct {
	mu   sync.Mutex
	seqs map[[2]int]int64
}

// NewInMemoryInvoiceSequence returns an empty sequence.
func NewInMemoryInvoiceSequence() *InMemoryInvoiceSequence {
	return &InMemoryInvoiceSequence{seqs: make(map[[2]int]int64)}
}

// Next implements InvoiceSequence.
func (s *InMemoryInvoiceSequence) Next(ctx context.Context, year int, month time.Month) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]int{year, int(month)}
	s.seqs[key]++
	return s.seqs[key], nil
}
