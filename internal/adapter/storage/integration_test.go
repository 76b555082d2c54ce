package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/ticket-reservation/internal/adapter/lock"
	"github.com/rl1809/ticket-reservation/internal/clock"
	"github.com/rl1809/ticket-reservation/internal/core/domain"
	"github.com/rl1809/ticket-reservation/internal/core/service"
	"github.com/rl1809/ticket-reservation/internal/port"
)

type storeCase struct {
	name string
	open func(t *testing.T) (repo port.EventRepository, cleanup func(eventID string))
}

var storeCases = []storeCase{
	{"memory", func(t *testing.T) (port.EventRepository, func(string)) {
		return NewMemoryAdapter(), func(string) {}
	}},
	{"redis", func(t *testing.T) (port.EventRepository, func(string)) {
		client := getRedisClient(t)
		t.Cleanup(func() { client.Close() })
		return NewRedisAdapter(client), func(id string) { resetRedisEvent(context.Background(), client, id) }
	}},
	{"mysql", func(t *testing.T) (port.EventRepository, func(string)) {
		db := getMySQLDB(t)
		t.Cleanup(func() { db.Close() })
		return NewMySQLAdapter(db), func(id string) { resetMySQLEvent(context.Background(), db, id) }
	}},
}

func createTestEvent(t *testing.T, engine *service.Engine, stock int) domain.Event {
	t.Helper()
	ev, err := engine.CreateEvent(context.Background(), service.CreateEventRequest{
		Name: "Integration",
		Tickets: []service.TicketCategoryRequest{
			{Type: "GA", Price: 50, AvailableQuantity: stock},
			{Type: "VIP", Price: 200, AvailableQuantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create event failed: %v", err)
	}
	return ev
}

// Two managers with separate in-process locks stand in for two server
// instances: only the store's version check keeps them from overselling.
func TestIntegration_TwoInstancesNeverOversell(t *testing.T) {
	for _, sc := range storeCases {
		t.Run(sc.name, func(t *testing.T) {
			repo, cleanup := sc.open(t)
			ctx := context.Background()
			const initialStock, totalRequests = 10, 40

			var engines []*service.Engine
			for i := 0; i < 2; i++ {
				m := service.NewReservationManager(repo, lock.NewKeyedMutex(), service.WithMaxRetries(200))
				s := service.NewExpiryScheduler(m, repo)
				t.Cleanup(s.Stop)
				engines = append(engines, service.NewEngine(m, s, repo, zerolog.Nop()))
			}

			ev := createTestEvent(t, engines[0], initialStock)
			defer cleanup(ev.ID)

			var (
				wg           sync.WaitGroup
				successCount atomic.Int32
			)
			for i := 0; i < totalRequests; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := engines[i%2].SecureTickets(ctx, service.SecureTicketsRequest{
						EventID:    ev.ID,
						TicketType: "GA",
						Quantity:   1,
						OrderID:    uuid.NewString(),
					})
					if err == nil {
						successCount.Add(1)
						return
					}
					if service.CodeOf(err) == service.CodeInternal {
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			if successCount.Load() > initialStock {
				t.Fatalf("oversold: %d holds for %d tickets", successCount.Load(), initialStock)
			}
			stored, err := repo.LoadEvent(ctx, ev.ID)
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if int(successCount.Load()) != initialStock-stored.TicketCategories[0].AvailableQuantity {
				t.Errorf("%d holds but GA went to %d", successCount.Load(), stored.TicketCategories[0].AvailableQuantity)
			}
			if len(stored.Reservations) != int(successCount.Load()) {
				t.Errorf("expected %d reservations, got %d", successCount.Load(), len(stored.Reservations))
			}
			if err := stored.Verify(); err != nil {
				t.Error(err)
			}
		})
	}
}

// Holds taken before a crash are released by the next process's startup sweep.
func TestIntegration_RestartSweepReleasesStrandedHolds(t *testing.T) {
	for _, sc := range storeCases {
		t.Run(sc.name, func(t *testing.T) {
			repo, cleanup := sc.open(t)
			ctx := context.Background()

			// The first instance runs in the past, so its holds are already due.
			past := clock.NewManual(time.Now().Add(-domain.ReservationTTL - time.Minute))
			m1 := service.NewReservationManager(repo, lock.NewKeyedMutex(), service.WithClock(past))
			s1 := service.NewExpiryScheduler(m1, repo, service.WithSchedulerClock(past))
			e1 := service.NewEngine(m1, s1, repo, zerolog.Nop())

			ev := createTestEvent(t, e1, 3)
			defer cleanup(ev.ID)

			for _, orderID := range []string{"stranded-1", "stranded-2"} {
				if _, err := e1.SecureTickets(ctx, service.SecureTicketsRequest{
					EventID: ev.ID, TicketType: "GA", Quantity: 1, OrderID: orderID,
				}); err != nil {
					t.Fatalf("secure failed: %v", err)
				}
			}
			if _, err := e1.SecureTickets(ctx, service.SecureTicketsRequest{
				EventID: ev.ID, TicketType: "VIP", Quantity: 1, OrderID: "kept",
			}); err != nil {
				t.Fatalf("secure failed: %v", err)
			}
			if _, err := e1.ConfirmTickets(ctx, service.ConfirmTicketsRequest{EventID: ev.ID, OrderID: "kept"}); err != nil {
				t.Fatalf("confirm failed: %v", err)
			}
			s1.Stop()

			m2 := service.NewReservationManager(repo, lock.NewKeyedMutex())
			s2 := service.NewExpiryScheduler(m2, repo)
			defer s2.Stop()
			if err := s2.Start(ctx); err != nil {
				t.Fatalf("start failed: %v", err)
			}

			deadline := time.Now().Add(5 * time.Second)
			for {
				stored, err := repo.LoadEvent(ctx, ev.ID)
				if err != nil {
					t.Fatalf("load failed: %v", err)
				}
				if len(stored.Reservations) == 0 {
					if stored.TicketCategories[0].AvailableQuantity != 3 {
						t.Errorf("expected GA restored to 3, got %d", stored.TicketCategories[0].AvailableQuantity)
					}
					if stored.TicketCategories[1].AvailableQuantity != 0 {
						t.Errorf("confirmed VIP ticket must stay sold, got %d", stored.TicketCategories[1].AvailableQuantity)
					}
					if stored.LowestPrice != 50 {
						t.Errorf("expected lowest price 50, got %v", stored.LowestPrice)
					}
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("sweep left %d reservations", len(stored.Reservations))
				}
				time.Sleep(10 * time.Millisecond)
			}

			_, err := e1.ConfirmTickets(ctx, service.ConfirmTicketsRequest{EventID: ev.ID, OrderID: "stranded-1"})
			if !errors.Is(err, domain.ErrReservationExpired) {
				t.Errorf("expected ErrReservationExpired for a swept hold, got %v", err)
			}
		})
	}
}

func TestIntegration_RescheduleIsPersisted(t *testing.T) {
	for _, sc := range storeCases {
		t.Run(sc.name, func(t *testing.T) {
			repo, cleanup := sc.open(t)
			ctx := context.Background()

			m := service.NewReservationManager(repo, lock.NewKeyedMutex())
			s := service.NewExpiryScheduler(m, repo)
			t.Cleanup(s.Stop)
			engine := service.NewEngine(m, s, repo, zerolog.Nop())

			ev, err := engine.CreateEvent(ctx, service.CreateEventRequest{
				Name:      "Integration",
				StartDate: time.Date(2030, 6, 1, 20, 0, 0, 0, time.UTC),
				EndDate:   time.Date(2030, 6, 1, 23, 0, 0, 0, time.UTC),
				Tickets:   []service.TicketCategoryRequest{{Type: "GA", Price: 50, AvailableQuantity: 3}},
			})
			if err != nil {
				t.Fatalf("create event failed: %v", err)
			}
			defer cleanup(ev.ID)

			if _, err := engine.SecureTickets(ctx, service.SecureTicketsRequest{
				EventID: ev.ID, TicketType: "GA", Quantity: 1, OrderID: uuid.NewString(),
			}); err != nil {
				t.Fatalf("secure failed: %v", err)
			}

			newStart := time.Date(2030, 6, 8, 20, 0, 0, 0, time.UTC)
			newEnd := time.Date(2030, 6, 8, 23, 0, 0, 0, time.UTC)
			if _, err := engine.UpdateEventDates(ctx, service.UpdateEventDatesRequest{
				EventID: ev.ID, StartDate: &newStart, EndDate: &newEnd,
			}); err != nil {
				t.Fatalf("update failed: %v", err)
			}

			stored, err := repo.LoadEvent(ctx, ev.ID)
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if !stored.StartDate.Equal(newStart) || !stored.EndDate.Equal(newEnd) {
				t.Errorf("expected %v..%v, got %v..%v", newStart, newEnd, stored.StartDate, stored.EndDate)
			}
			if stored.TotalAvailableTickets != 2 || len(stored.Reservations) != 1 {
				t.Errorf("reschedule disturbed inventory: total %d, reservations %d",
					stored.TotalAvailableTickets, len(stored.Reservations))
			}
		})
	}
}
