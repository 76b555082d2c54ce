package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/ticket-reservation/internal/core/domain"
)

// Mock EventRepository
type mockEventRepo struct {
	mu        sync.Mutex
	events    map[string]*domain.Event
	conflicts int // the next N saves fail with a version conflict
	saves     int
	saveErr   error
	listErr   error
}

func newMockEventRepo(events ...*domain.Event) *mockEventRepo {
	m := &mockEventRepo{events: make(map[string]*domain.Event)}
	for _, ev := range events {
		m.events[ev.ID] = ev.Clone()
	}
	return m
}

func (m *mockEventRepo) CreateEvent(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[event.ID]; ok {
		return domain.ErrEventExists
	}
	m.events[event.ID] = event.Clone()
	return nil
}

func (m *mockEventRepo) LoadEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return ev.Clone(), nil
}

func (m *mockEventRepo) SaveEvent(ctx context.Context, event *domain.Event, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrConcurrentUpdate
	}
	current, ok := m.events[event.ID]
	if !ok {
		return domain.ErrEventNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrConcurrentUpdate
	}
	event.Version = expectedVersion + 1
	m.events[event.ID] = event.Clone()
	m.saves++
	return nil
}

func (m *mockEventRepo) ListPendingReservations(ctx context.Context) ([]domain.ReservationDeadline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.ReservationDeadline
	for _, ev := range m.events {
		out = append(out, ev.Deadlines()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// event returns the stored copy without going through the version contract.
func (m *mockEventRepo) event(t *testing.T, id string) *domain.Event {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		t.Fatalf("event %s not stored", id)
	}
	return ev.Clone()
}

// Mock EventPublisher
type mockPublisher struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (m *mockPublisher) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockPublisher) types() []domain.LifecycleType {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.LifecycleType, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}

// stalledPublisher blocks until the publish context is done, like a writer
// whose broker is down.
type stalledPublisher struct {
	calls atomic.Int32
}

func (p *stalledPublisher) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	p.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

// failingLocker never grants the lock.
type failingLocker struct {
	err error
}

func (l failingLocker) Lock(ctx context.Context, key string) (func(), error) { return nil, l.err }

// noLock leaves all serialization to the version check.
type noLock struct{}

func (noLock) Lock(ctx context.Context, key string) (func(), error) { return func() {}, nil }

func gaEvent(id string, quantity int) *domain.Event {
	ev := &domain.Event{
		ID:               id,
		Name:             "Concert",
		Location:         "Arena",
		TicketCategories: []domain.TicketCategory{{Type: "GA", Price: 50, InitialQuantity: quantity}},
	}
	ev.Stock()
	return ev
}

func twoTierEvent(id string) *domain.Event {
	ev := &domain.Event{
		ID:   id,
		Name: "Concert",
		TicketCategories: []domain.TicketCategory{
			{Type: "GA", Price: 50, InitialQuantity: 2},
			{Type: "VIP", Price: 120, InitialQuantity: 3},
		},
	}
	ev.Stock()
	return ev
}

func assertInvariants(t *testing.T, ev *domain.Event) {
	t.Helper()
	if err := ev.Verify(); err != nil {
		t.Errorf("invariants broken: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
