package handler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/ticket-reservation/internal/adapter/lock"
	"github.com/rl1809/ticket-reservation/internal/adapter/storage"
	"github.com/rl1809/ticket-reservation/internal/clock"
	"github.com/rl1809/ticket-reservation/internal/core/domain"
	"github.com/rl1809/ticket-reservation/internal/core/service"
)

type fixture struct {
	engine *service.Engine
	repo   *storage.MemoryAdapter
	clock  *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	repo := storage.NewMemoryAdapter()
	manager := service.NewReservationManager(repo, lock.NewKeyedMutex(), service.WithClock(clk))
	scheduler := service.NewExpiryScheduler(manager, repo, service.WithSchedulerClock(clk))
	t.Cleanup(scheduler.Stop)

	return &fixture{
		engine: service.NewEngine(manager, scheduler, repo, zerolog.Nop()),
		repo:   repo,
		clock:  clk,
	}
}

// seed creates an event with GA (2 @ 50) and VIP (1 @ 120).
func (f *fixture) seed(t *testing.T) domain.Event {
	t.Helper()
	ev, err := f.engine.CreateEvent(context.Background(), service.CreateEventRequest{
		Name:      "Concert",
		Location:  "Arena",
		Organizer: "Promoter",
		StartDate: time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 6, 1, 23, 0, 0, 0, time.UTC),
		Tickets: []service.TicketCategoryRequest{
			{Type: "GA", Price: 50, AvailableQuantity: 2},
			{Type: "VIP", Price: 120, AvailableQuantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return ev
}
