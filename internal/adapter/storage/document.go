package storage

import (
	"time"

	"github.com/rl1809/ticket-reservation/internal/core/domain"
)

// eventDocument is the serialized form of an event in key-value stores.
type eventDocument struct {
	ID                    string                `json:"id"`
	Name                  string                `json:"name"`
	Description           string                `json:"description,omitempty"`
	Location              string                `json:"location,omitempty"`
	Organizer             string                `json:"organizer,omitempty"`
	Category              string                `json:"category,omitempty"`
	StartDate             time.Time             `json:"start_date"`
	EndDate               time.Time             `json:"end_date"`
	TicketCategories      []categoryDocument    `json:"ticket_categories"`
	TotalAvailableTickets int                   `json:"total_available_tickets"`
	LowestPrice           float64               `json:"lowest_price"`
	Reservations          []reservationDocument `json:"reservations,omitempty"`
	Settlements           []settlementDocument  `json:"settlements,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

type categoryDocument struct {
	Type              string  `json:"type"`
	Price             float64 `json:"price"`
	InitialQuantity   int     `json:"initial_quantity"`
	AvailableQuantity int     `json:"available_quantity"`
}

type reservationDocument struct {
	OrderID    string    `json:"order_id"`
	TicketType string    `json:"ticket_type"`
	Quantity   int       `json:"quantity"`
	ExpiresAt  time.Time `json:"expires_at"`
	Confirmed  bool      `json:"confirmed"`
}

type settlementDocument struct {
	OrderID   string    `json:"order_id"`
	Outcome   string    `json:"outcome"`
	SettledAt time.Time `json:"settled_at"`
}

func toDocument(ev *domain.Event) eventDocument {
	doc := eventDocument{
		ID:                    ev.ID,
		Name:                  ev.Name,
		Description:           ev.Description,
		Location:              ev.Location,
		Organizer:             ev.Organizer,
		Category:              ev.Category,
		StartDate:             ev.StartDate,
		EndDate:               ev.EndDate,
		TotalAvailableTickets: ev.TotalAvailableTickets,
		LowestPrice:           ev.LowestPrice,
		CreatedAt:             ev.CreatedAt,
		UpdatedAt:             ev.UpdatedAt,
	}
	for _, c := range ev.TicketCategories {
		doc.TicketCategories = append(doc.TicketCategories, categoryDocument(c))
	}
	for _, r := range ev.Reservations {
		doc.Reservations = append(doc.Reservations, reservationDocument(r))
	}
	for _, s := range ev.Settlements {
		doc.Settlements = append(doc.Settlements, settlementDocument{
			OrderID:   s.OrderID,
			Outcome:   string(s.Outcome),
			SettledAt: s.SettledAt,
		})
	}
	return doc
}

func (doc eventDocument) toDomain(version int) *domain.Event {
	ev := &domain.Event{
		ID:                    doc.ID,
		Name:                  doc.Name,
		Description:           doc.Description,
		Location:              doc.Location,
		Organizer:             doc.Organizer,
		Category:              doc.Category,
		StartDate:             doc.StartDate,
		EndDate:               doc.EndDate,
		TotalAvailableTickets: doc.TotalAvailableTickets,
		LowestPrice:           doc.LowestPrice,
		Version:               version,
		CreatedAt:             doc.CreatedAt,
		UpdatedAt:             doc.UpdatedAt,
	}
	for _, c := range doc.TicketCategories {
		ev.TicketCategories = append(ev.TicketCategories, domain.TicketCategory(c))
	}
	for _, r := range doc.Reservations {
		ev.Reservations = append(ev.Reservations, domain.Reservation(r))
	}
	for _, s := range doc.Settlements {
		ev.Settlements = append(ev.Settlements, domain.Settlement{
			OrderID:   s.OrderID,
			Outcome:   domain.SettlementOutcome(s.Outcome),
			SettledAt: s.SettledAt,
		})
	}
	return ev
}
