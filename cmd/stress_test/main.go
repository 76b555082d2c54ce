package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/ticket-reservation/internal/adapter/handler"
	"github.com/rl1809/ticket-reservation/internal/core/service"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "gRPC address of the reservation server")
	initialStock := flag.Int("stock", 20, "tickets in the single category")
	totalRequests := flag.Int("requests", 50, "concurrent secure calls, one ticket each")
	concurrency := flag.Int("concurrency", 50, "maximum in-flight calls")
	cleanup := flag.Bool("cleanup", true, "delete all reservations afterwards")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	client := handler.NewReservationClient(conn)

	event, err := client.CreateEvent(ctx, service.CreateEventRequest{
		Name:      "Stress Test " + time.Now().Format(time.RFC3339),
		StartDate: time.Now().Add(24 * time.Hour),
		EndDate:   time.Now().Add(27 * time.Hour),
		Tickets: []service.TicketCategoryRequest{
			{Type: "GA", Price: 50, AvailableQuantity: *initialStock},
		},
	})
	if err != nil {
		log.Fatalf("failed to create event: %v", err)
	}
	log.Printf("created event %s with %d tickets", event.ID, *initialStock)

	var successCount, soldOutCount, busyCount, otherCount atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		g.Go(func() error {
			_, err := client.SecureTickets(gctx, service.SecureTicketsRequest{
				EventID:    event.ID,
				TicketType: "GA",
				Quantity:   1,
				OrderID:    uuid.NewString(),
			})
			var svcErr *service.Error
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.As(err, &svcErr) && svcErr.Code == service.CodeInsufficientInventory:
				soldOutCount.Add(1)
			case errors.As(err, &svcErr) && svcErr.Retryable:
				busyCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("unexpected error: %v", err)
			}
			return nil
		})
	}
	g.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Busy (retryable): %d\n", busyCount.Load())
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success > *initialStock {
		fmt.Printf("FAIL: oversold, %d holds for %d tickets\n", success, *initialStock)
	} else {
		fmt.Printf("PASS: %d holds within %d tickets\n", success, *initialStock)
	}

	view, err := client.GetEvent(ctx, event.ID)
	if err != nil {
		log.Fatalf("failed to read event: %v", err)
	}
	fmt.Printf("Remaining Stock:  %d\n", view.TotalAvailableTickets)
	if view.TotalAvailableTickets == *initialStock-success {
		fmt.Println("PASS: stock matches successful holds")
	} else {
		fmt.Printf("FAIL: expected %d remaining, got %d\n", *initialStock-success, view.TotalAvailableTickets)
	}

	if *cleanup {
		deleted, err := client.DeleteAllReservations(ctx)
		if err != nil {
			log.Fatalf("cleanup failed: %v", err)
		}
		log.Printf("cleanup: %d released, %d finalized", deleted.Released, deleted.Finalized)
	}
}
