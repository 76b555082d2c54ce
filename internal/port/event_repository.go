package port

import (
	"context"

	"github.com/rl1809/ticket-reservation/internal/core/domain"
)

type EventRepository interface {
	// CreateEvent persists a new event at version 0. Returns
	// domain.ErrEventExists if the id is taken.
	CreateEvent(ctx context.Context, event *domain.Event) error

	// LoadEvent returns the full aggregate or domain.ErrEventNotFound.
	LoadEvent(ctx context.Context, eventID string) (*domain.Event, error)

	// SaveEvent writes the aggregate iff the stored version equals
	// expectedVersion, then bumps event.Version. Returns
	// domain.ErrConcurrentUpdate on mismatch.
	SaveEvent(ctx context.Context, event *domain.Event, expectedVersion int) error

	// ListPendingReservations returns the deadline of every reservation still
	// stored, across all events. Used by the expiry sweep.
	ListPendingReservations(ctx context.Context) ([]domain.ReservationDeadline, error)
}
