package service

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rl1809/ticket-reservation/internal/core/domain"
)

// Code is the stable, transport-independent result code returned to callers.
type Code string

const (
	CodeInvalidRequest        Code = "invalid_request"
	CodeInvalidQuantity       Code = "invalid_quantity"
	CodeInvalidOrderID        Code = "invalid_order_id"
	CodeInvalidEventID        Code = "invalid_event_id"
	CodeInvalidEvent          Code = "invalid_event"
	CodeEventNotFound         Code = "event_not_found"
	CodeEventExists           Code = "event_exists"
	CodeTicketTypeNotFound    Code = "ticket_type_not_found"
	CodeInsufficientInventory Code = "insufficient_inventory"
	CodeDuplicateReservation  Code = "duplicate_reservation"
	CodeReservationNotFound   Code = "reservation_not_found"
	CodeAlreadyConfirmed      Code = "already_confirmed"
	CodeReservationExpired    Code = "reservation_expired"
	CodeConcurrentUpdate      Code = "concurrent_update"
	CodeUnavailable           Code = "unavailable"
	CodeInternal              Code = "internal_error"
)

// Error is what the engine returns to its callers. Retryable is set for
// transient failures where repeating the same request may succeed.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	err       error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

var errorCodes = []struct {
	err  error
	code Code
}{
	{domain.ErrInvalidQuantity, CodeInvalidQuantity},
	{domain.ErrInvalidOrderID, CodeInvalidOrderID},
	{domain.ErrInvalidEventID, CodeInvalidEventID},
	{domain.ErrInvalidEvent, CodeInvalidEvent},
	{domain.ErrEventNotFound, CodeEventNotFound},
	{domain.ErrEventExists, CodeEventExists},
	{domain.ErrTicketTypeNotFound, CodeTicketTypeNotFound},
	{domain.ErrInsufficientInventory, CodeInsufficientInventory},
	{domain.ErrDuplicateReservation, CodeDuplicateReservation},
	{domain.ErrReservationNotFound, CodeReservationNotFound},
	{domain.ErrAlreadyConfirmed, CodeAlreadyConfirmed},
	{domain.ErrReservationExpired, CodeReservationExpired},
	{domain.ErrConcurrentUpdate, CodeConcurrentUpdate},
	{domain.ErrUnavailable, CodeUnavailable},
}

// CodeOf classifies any error returned by the engine or its collaborators.
// A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, domain.ErrInventoryIntegrity) {
		return CodeInternal
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if transient(err) {
		return CodeUnavailable
	}
	return CodeInternal
}

// transient reports whether err looks like a lost connection to the store
// rather than a fault in the data.
func transient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded)
}

// toError converts err into an *Error. Internal failures, integrity faults
// included, keep their cause for logging but expose a generic message.
func toError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	code := CodeOf(err)
	switch code {
	case CodeInternal:
		return &Error{Code: code, Message: "internal error", err: err}
	case CodeConcurrentUpdate:
		return &Error{Code: code, Message: "inventory is busy, retry", Retryable: true, err: err}
	case CodeUnavailable:
		return &Error{Code: code, Message: "inventory store unavailable, retry", Retryable: true, err: err}
	default:
		return &Error{Code: code, Message: err.Error(), err: err}
	}
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func invalidBody(err error) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("invalid request body: %v", err), err: err}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(CodeOf(err))
}
