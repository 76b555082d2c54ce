package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rl1809/ticket-reservation/internal/core/domain"
)

// MemoryAdapter keeps events in process memory. It honours the same version
// contract as the durable stores and is used for development and tests.
type MemoryAdapter struct {
	mu     sync.RWMutex
	events map[string]*domain.Event
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{events: make(map[string]*domain.Event)}
}

func (m *MemoryAdapter) CreateEvent(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[event.ID]; ok {
		return domain.ErrEventExists
	}
	event.Version = 0
	m.events[event.ID] = event.Clone()
	return nil
}

func (m *MemoryAdapter) LoadEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[eventID]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return ev.Clone(), nil
}

func (m *MemoryAdapter) SaveEvent(ctx context.Context, event *domain.Event, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.events[event.ID]
	if !ok {
		return domain.ErrEventNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrConcurrentUpdate
	}
	event.Version = expectedVersion + 1
	m.events[event.ID] = event.Clone()
	return nil
}

func (m *MemoryAdapter) ListPendingReservations(ctx context.Context) ([]domain.ReservationDeadline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ReservationDeadline
	for _, ev := range m.events {
		out = append(out, ev.Deadlines()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}
