package persist

import (
	"context"
	"errors"
	"sync"

	"calgrid/internal/model"
)

var (
	// ErrNotFound is returned when an update targets an unknown event.
	ErrNotFound = errors.New("persist: event not found")
	// ErrTimeout is reported when a commit does not resolve in time.
	ErrTimeout = errors.New("persist: commit timed out")
)

// Gateway accepts committed event mutations. A nil error means success.
// Implementations are treated as idempotent and are never retried. They
// must return promptly once ctx is done; a call still running one timeout
// after its deadline no longer holds back later writes for that event.
type Gateway interface {
	UpdateEvent(ctx context.Context, u model.EventUpdate) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, u model.EventUpdate) error

// UpdateEvent calls f(ctx, u).
func (f GatewayFunc) UpdateEvent(ctx context.Context, u model.EventUpdate) error {
	return f(ctx, u)
}

// EventSource lists the stored event definitions.
type EventSource interface {
	ListEvents(ctx context.Context) ([]model.Event, error)
}

// Store is a full event store: read, bulk write and drag-commit updates.
type Store interface {
	Gateway
	EventSource
	UpsertEvents(ctx context.Context, events []model.Event) error
	Close() error
}

// MemoryStore is an in-process Store that keeps insertion order.
type MemoryStore struct {
	mu     sync.RWMutex
	order  []string
	events map[string]model.Event
}

// NewMemoryStore returns a store seeded with events.
func NewMemoryStore(events ...model.Event) *MemoryStore {
	s := &MemoryStore{events: make(map[string]model.Event)}
	_ = s.UpsertEvents(context.Background(), events)
	return s
}

func (s *MemoryStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.events[id])
	}
	return out, nil
}

func (s *MemoryStore) UpsertEvents(ctx context.Context, events []model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		if _, exists := s.events[ev.ID]; !exists {
			s.order = append(s.order, ev.ID)
		}
		s.events[ev.ID] = ev
	}
	return nil
}

func (s *MemoryStore) UpdateEvent(ctx context.Context, u model.EventUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[u.ID]
	if !ok {
		return ErrNotFound
	}
	ev.Start = u.Start
	ev.End = u.End
	s.events[u.ID] = ev
	return nil
}

// Get returns a stored event by id.
func (s *MemoryStore) Get(id string) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	return ev, ok
}

func (s *MemoryStore) Close() error { return nil }
