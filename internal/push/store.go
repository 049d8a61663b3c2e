package push

import (
	"context"
	"sort"
	"sync"
)

// Store keeps agent subscriptions, one per endpoint.
type Store interface {
	// Save inserts sub or replaces the keys of an existing endpoint.
	Save(ctx context.Context, sub Subscription) error
	Delete(ctx context.Context, endpoint string) (bool, error)
	List(ctx context.Context) ([]Subscription, error)
	Count(ctx context.Context) (int, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[string]Subscription
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]Subscription)}
}

func (s *MemoryStore) Save(_ context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.Endpoint] = sub
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, endpoint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[endpoint]
	delete(s.subs, endpoint)
	return ok, nil
}

func (s *MemoryStore) List(context.Context) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs), nil
}
