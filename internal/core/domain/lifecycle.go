package domain

import "time"

type LifecycleType string

const (
	TicketsSecured       LifecycleType = "tickets.secured"
	TicketsConfirmed     LifecycleType = "tickets.confirmed"
	ReservationReleased  LifecycleType = "reservation.released"
	ReservationFinalized LifecycleType = "reservation.finalized"
	EventRescheduled     LifecycleType = "event.rescheduled"
)

// LifecycleEvent is published after a reservation changes state or an event
// is rescheduled.
type LifecycleEvent struct {
	Type       LifecycleType `json:"type"`
	EventID    string        `json:"event_id"`
	OrderID    string        `json:"order_id,omitempty"`
	TicketType string        `json:"ticket_type,omitempty"`
	Quantity   int           `json:"quantity,omitempty"`
	StartDate  *time.Time    `json:"start_date,omitempty"`
	EndDate    *time.Time    `json:"end_date,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}
