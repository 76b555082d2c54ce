package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rl1809/ticket-reservation/internal/core/domain"
)

func newStockedEvent(id string) *domain.Event {
	ev := &domain.Event{
		ID:   id,
		Name: "Concert",
		TicketCategories: []domain.TicketCategory{
			{Type: "GA", Price: 50, InitialQuantity: 2},
			{Type: "VIP", Price: 120, InitialQuantity: 1},
		},
	}
	ev.Stock()
	return ev
}

func TestMemoryAdapter_CreateAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter()

	if err := store.CreateEvent(ctx, newStockedEvent("event-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.CreateEvent(ctx, newStockedEvent("event-1")); !errors.Is(err, domain.ErrEventExists) {
		t.Fatalf("expected ErrEventExists, got %v", err)
	}

	ev, err := store.LoadEvent(ctx, "event-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if ev.TotalAvailableTickets != 3 || ev.LowestPrice != 50 {
		t.Errorf("unexpected derived fields: total=%d lowest=%v", ev.TotalAvailableTickets, ev.LowestPrice)
	}

	if _, err := store.LoadEvent(ctx, "missing"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestMemoryAdapter_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter()
	store.CreateEvent(ctx, newStockedEvent("event-1"))

	ev, _ := store.LoadEvent(ctx, "event-1")
	ev.TicketCategories[0].AvailableQuantity = 0

	again, _ := store.LoadEvent(ctx, "event-1")
	if again.TicketCategories[0].AvailableQuantity != 2 {
		t.Error("mutating a loaded event leaked into the store")
	}
}

func TestMemoryAdapter_SaveVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter()
	store.CreateEvent(ctx, newStockedEvent("event-1"))

	first, _ := store.LoadEvent(ctx, "event-1")
	stale, _ := store.LoadEvent(ctx, "event-1")

	first.Hold("GA", 1, "o1", time.Now(), domain.ReservationTTL)
	if err := store.SaveEvent(ctx, first, first.Version); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("expected version 1 after save, got %d", first.Version)
	}

	stale.Hold("GA", 2, "o2", time.Now(), domain.ReservationTTL)
	if err := store.SaveEvent(ctx, stale, stale.Version); !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}

	ev, _ := store.LoadEvent(ctx, "event-1")
	if ev.TicketCategories[0].AvailableQuantity != 1 {
		t.Errorf("stale save must not apply, available=%d", ev.TicketCategories[0].AvailableQuantity)
	}
}

func TestMemoryAdapter_ListPendingReservations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"event-1", "event-2"} {
		store.CreateEvent(ctx, newStockedEvent(id))
	}
	ev1, _ := store.LoadEvent(ctx, "event-1")
	ev1.Hold("GA", 1, "late", now.Add(time.Minute), domain.ReservationTTL)
	store.SaveEvent(ctx, ev1, ev1.Version)

	ev2, _ := store.LoadEvent(ctx, "event-2")
	ev2.Hold("VIP", 1, "early", now, domain.ReservationTTL)
	store.SaveEvent(ctx, ev2, ev2.Version)

	deadlines, err := store.ListPendingReservations(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(deadlines) != 2 {
		t.Fatalf("expected 2 deadlines, got %d", len(deadlines))
	}
	if deadlines[0].OrderID != "early" || deadlines[0].EventID != "event-2" {
		t.Errorf("expected earliest deadline first, got %+v", deadlines[0])
	}
}
