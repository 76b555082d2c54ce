package domain

import "time"

const (
	// ReservationTTL is how long a hold lasts before the expiry scheduler
	// releases it.
	ReservationTTL = 2 * time.Minute

	// SettlementRetention bounds how long a removed reservation is remembered.
	SettlementRetention = 24 * time.Hour
)

type Reservation struct {
	OrderID    string
	TicketType string
	Quantity   int
	ExpiresAt  time.Time
	Confirmed  bool
}

// Expired reports whether the hold deadline has passed at now.
func (r Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

type SettlementOutcome string

const (
	SettlementConfirmed SettlementOutcome = "confirmed"
	SettlementReleased  SettlementOutcome = "released"
)

// Settlement remembers the fate of a reservation after its record was
// removed, so late confirms and reused order ids are answered correctly.
type Settlement struct {
	OrderID   string
	Outcome   SettlementOutcome
	SettledAt time.Time
}

// ReleaseOutcome describes what a release did to a reservation.
type ReleaseOutcome string

const (
	// ReleaseNoop: the reservation was already gone.
	ReleaseNoop ReleaseOutcome = "noop"
	// ReleaseFinalized: the reservation was confirmed, only the record was removed.
	ReleaseFinalized ReleaseOutcome = "finalized"
	// ReleaseRestored: the reservation was unconfirmed, its tickets went back to stock.
	ReleaseRestored ReleaseOutcome = "restored"
)

// ReservationDeadline is one row of the startup sweep.
type ReservationDeadline struct {
	EventID   string
	OrderID   string
	ExpiresAt time.Time
}
