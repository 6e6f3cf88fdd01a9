package usage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryHistory implements HistoryStore in process. Retention trimming is
// left to the backing database in production; the in-memory variant simply
// grows, which is fine for tests.
type InMemoryHistory struct {
	mu     sync.Mutex
	events []*Event
}

// NewInMemoryHistory returns an empty InMemoryHistory.
func NewInMemoryHistory() *InMemoryHistory {
	return &InMemoryHistory{}
}

// Append implements HistoryStore.
func (s *InMemoryHistory) Append(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

// ListBySubscription implements HistoryStore.
func (s *InMemoryHistory) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int64) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for _, e := range s.events {
		if e.SubscriptionID == subscriptionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}
