package domain

import "errors"

var (
	ErrEventNotFound         = errors.New("event not found")
	ErrTicketTypeNotFound    = errors.New("ticket type not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrDuplicateReservation  = errors.New("duplicate reservation")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrAlreadyConfirmed      = errors.New("reservation already confirmed")
	ErrReservationExpired    = errors.New("reservation expired")

	// ErrConcurrentUpdate is returned by stores when the expected version no
	// longer matches. It is transient.
	ErrConcurrentUpdate = errors.New("concurrent update conflict")

	// ErrUnavailable marks a failure to reach the lock service or the store.
	// It is transient.
	ErrUnavailable = errors.New("backing service unavailable")

	// ErrInventoryIntegrity means the derived counters disagree with the
	// category quantities. It is never repaired automatically.
	ErrInventoryIntegrity = errors.New("inventory integrity fault")

	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidOrderID  = errors.New("invalid order id")
	ErrInvalidEventID  = errors.New("invalid event id")
	ErrInvalidEvent    = errors.New("invalid event")
	ErrEventExists     = errors.New("event already exists")
)
