package domain

import (
	"fmt"
	"math"
	"time"
)

// MaxTickets bounds a single category and the whole event, matching the
// width of the stores' quantity columns.
const MaxTickets = math.MaxInt32

type TicketCategory struct {
	Type              string
	Price             float64
	InitialQuantity   int
	AvailableQuantity int
}

// Event is the aggregate root of the inventory. TotalAvailableTickets and
// LowestPrice are cached derivations of TicketCategories and must be kept in
// step with every quantity change.
type Event struct {
	ID          string
	Name        string
	Description string
	Location    string
	Organizer   string
	Category    string
	StartDate   time.Time
	EndDate     time.Time

	TicketCategories      []TicketCategory
	TotalAvailableTickets int
	LowestPrice           float64

	Reservations []Reservation
	Settlements  []Settlement

	Version   int // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventSummary is what the order collaborator needs after a confirm.
type EventSummary struct {
	EventName   string
	Description string
	Location    string
	Organizer   string
	StartDate   time.Time
	EndDate     time.Time
}

// Validate checks the invariants an event must satisfy at creation.
func (e *Event) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEvent)
	}
	if len(e.TicketCategories) == 0 {
		return fmt.Errorf("%w: at least one ticket category is required", ErrInvalidEvent)
	}
	if !e.StartDate.IsZero() && !e.EndDate.IsZero() && e.EndDate.Before(e.StartDate) {
		return fmt.Errorf("%w: end date before start date", ErrInvalidEvent)
	}
	seen := make(map[string]struct{}, len(e.TicketCategories))
	total := 0
	for _, c := range e.TicketCategories {
		if c.Type == "" {
			return fmt.Errorf("%w: ticket type is required", ErrInvalidEvent)
		}
		if _, dup := seen[c.Type]; dup {
			return fmt.Errorf("%w: duplicate ticket type %q", ErrInvalidEvent, c.Type)
		}
		seen[c.Type] = struct{}{}
		if c.Price < 0 {
			return fmt.Errorf("%w: negative price for %q", ErrInvalidEvent, c.Type)
		}
		if c.InitialQuantity < 0 {
			return fmt.Errorf("%w: negative quantity for %q", ErrInvalidEvent, c.Type)
		}
		if c.InitialQuantity > MaxTickets-total {
			return fmt.Errorf("%w: more than %d tickets", ErrInvalidEvent, MaxTickets)
		}
		total += c.InitialQuantity
	}
	return nil
}

// Stock resets every category to its initial quantity and derives the cached
// counters. Used once when the event is created.
func (e *Event) Stock() {
	for i := range e.TicketCategories {
		e.TicketCategories[i].AvailableQuantity = e.TicketCategories[i].InitialQuantity
	}
	e.TotalAvailableTickets = RecomputeTotalAvailable(e.TicketCategories)
	e.LowestPrice = RecomputeLowestPrice(e.TicketCategories)
}

func (e *Event) category(ticketType string) *TicketCategory {
	for i := range e.TicketCategories {
		if e.TicketCategories[i].Type == ticketType {
			return &e.TicketCategories[i]
		}
	}
	return nil
}

func (e *Event) reservationIndex(orderID string) int {
	for i := range e.Reservations {
		if e.Reservations[i].OrderID == orderID {
			return i
		}
	}
	return -1
}

// Reservation looks up an active reservation by order id.
func (e *Event) Reservation(orderID string) (Reservation, bool) {
	i := e.reservationIndex(orderID)
	if i < 0 {
		return Reservation{}, false
	}
	return e.Reservations[i], true
}

// Settlement looks up the remembered outcome of a removed reservation.
func (e *Event) Settlement(orderID string) (Settlement, bool) {
	for _, s := range e.Settlements {
		if s.OrderID == orderID {
			return s, true
		}
	}
	return Settlement{}, false
}

// Hold takes quantity tickets of ticketType out of stock for orderID. On any
// error the event is left untouched.
func (e *Event) Hold(ticketType string, quantity int, orderID string, now time.Time, ttl time.Duration) (Reservation, error) {
	if quantity <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	if _, ok := e.Reservation(orderID); ok {
		return Reservation{}, ErrDuplicateReservation
	}
	if _, ok := e.Settlement(orderID); ok {
		return Reservation{}, ErrDuplicateReservation
	}
	cat := e.category(ticketType)
	if cat == nil {
		return Reservation{}, ErrTicketTypeNotFound
	}
	if cat.AvailableQuantity < quantity {
		return Reservation{}, ErrInsufficientInventory
	}

	cat.AvailableQuantity -= quantity
	e.TotalAvailableTickets -= quantity
	if cat.AvailableQuantity == 0 {
		e.LowestPrice = RecomputeLowestPrice(e.TicketCategories)
	}

	r := Reservation{
		OrderID:    orderID,
		TicketType: ticketType,
		Quantity:   quantity,
		ExpiresAt:  now.Add(ttl),
	}
	e.Reservations = append(e.Reservations, r)
	return r, nil
}

// Confirm finalizes a hold. Inventory counters are not touched: the tickets
// left stock when the hold was taken.
func (e *Event) Confirm(orderID string, now time.Time) error {
	i := e.reservationIndex(orderID)
	if i < 0 {
		if s, ok := e.Settlement(orderID); ok {
			if s.Outcome == SettlementConfirmed {
				return ErrAlreadyConfirmed
			}
			return ErrReservationExpired
		}
		return ErrReservationNotFound
	}
	r := &e.Reservations[i]
	if r.Confirmed {
		return ErrAlreadyConfirmed
	}
	if r.Expired(now) {
		return ErrReservationExpired
	}
	r.Confirmed = true
	return nil
}

// Release settles a reservation whose deadline was reached. Confirmed
// reservations are only removed; unconfirmed ones return their tickets.
func (e *Event) Release(orderID string, now time.Time) (ReleaseOutcome, error) {
	i := e.reservationIndex(orderID)
	if i < 0 {
		return ReleaseNoop, nil
	}
	r := e.Reservations[i]

	outcome := ReleaseFinalized
	settled := SettlementConfirmed
	if !r.Confirmed {
		cat := e.category(r.TicketType)
		if cat == nil {
			return "", fmt.Errorf("%w: reservation %s references unknown ticket type %q", ErrInventoryIntegrity, orderID, r.TicketType)
		}
		regained := cat.AvailableQuantity == 0
		cat.AvailableQuantity += r.Quantity
		e.TotalAvailableTickets += r.Quantity
		if regained && cat.Price < e.LowestPrice {
			e.LowestPrice = cat.Price
		}
		outcome = ReleaseRestored
		settled = SettlementReleased
	}

	e.Reservations = append(e.Reservations[:i], e.Reservations[i+1:]...)
	e.Settlements = append(e.Settlements, Settlement{OrderID: orderID, Outcome: settled, SettledAt: now})
	return outcome, nil
}

// PruneSettlements drops settlements older than SettlementRetention and
// reports whether anything was removed.
func (e *Event) PruneSettlements(now time.Time) bool {
	kept := e.Settlements[:0]
	for _, s := range e.Settlements {
		if now.Sub(s.SettledAt) < SettlementRetention {
			kept = append(kept, s)
		}
	}
	pruned := len(kept) != len(e.Settlements)
	e.Settlements = kept
	return pruned
}

// Verify checks the derived counters against the category quantities.
func (e *Event) Verify() error {
	for _, c := range e.TicketCategories {
		if c.AvailableQuantity < 0 || c.AvailableQuantity > c.InitialQuantity {
			return fmt.Errorf("%w: event %s category %q available %d outside [0, %d]",
				ErrInventoryIntegrity, e.ID, c.Type, c.AvailableQuantity, c.InitialQuantity)
		}
	}
	if sum := RecomputeTotalAvailable(e.TicketCategories); sum != e.TotalAvailableTickets {
		return fmt.Errorf("%w: event %s total available %d, categories sum to %d",
			ErrInventoryIntegrity, e.ID, e.TotalAvailableTickets, sum)
	}
	if lowest := RecomputeLowestPrice(e.TicketCategories); lowest != e.LowestPrice {
		return fmt.Errorf("%w: event %s lowest price %v, categories give %v",
			ErrInventoryIntegrity, e.ID, e.LowestPrice, lowest)
	}
	return nil
}

// Reschedule moves the event to new dates. A nil date keeps the current one
// and the start date can only be postponed. It reports whether the dates
// changed.
func (e *Event) Reschedule(startDate, endDate *time.Time) (bool, error) {
	if startDate == nil && endDate == nil {
		return false, fmt.Errorf("%w: startDate or endDate is required", ErrInvalidEvent)
	}
	start, end := e.StartDate, e.EndDate
	if startDate != nil {
		start = *startDate
	}
	if endDate != nil {
		end = *endDate
	}
	if start.Before(e.StartDate) {
		return false, fmt.Errorf("%w: start date can only be postponed", ErrInvalidEvent)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return false, fmt.Errorf("%w: end date before start date", ErrInvalidEvent)
	}
	if start.Equal(e.StartDate) && end.Equal(e.EndDate) {
		return false, nil
	}
	e.StartDate, e.EndDate = start, end
	return true, nil
}

func (e *Event) Summary() EventSummary {
	return EventSummary{
		EventName:   e.Name,
		Description: e.Description,
		Location:    e.Location,
		Organizer:   e.Organizer,
		StartDate:   e.StartDate,
		EndDate:     e.EndDate,
	}
}

// Deadlines lists the expiry of every reservation still on the event.
func (e *Event) Deadlines() []ReservationDeadline {
	out := make([]ReservationDeadline, 0, len(e.Reservations))
	for _, r := range e.Reservations {
		out = append(out, ReservationDeadline{EventID: e.ID, OrderID: r.OrderID, ExpiresAt: r.ExpiresAt})
	}
	return out
}

// Clone returns a deep copy so stores never share slices with callers.
func (e *Event) Clone() *Event {
	c := *e
	c.TicketCategories = append([]TicketCategory(nil), e.TicketCategories...)
	c.Reservations = append([]Reservation(nil), e.Reservations...)
	c.Settlements = append([]Settlement(nil), e.Settlements...)
	return &c
}
