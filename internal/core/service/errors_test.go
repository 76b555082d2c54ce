package service

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/rl1809/ticket-reservation/internal/core/domain"
)

func TestCodeOf(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"engine error", &Error{Code: CodeInvalidRequest}, CodeInvalidRequest},
		{"wrapped sentinel", fmt.Errorf("hold: %w", domain.ErrInsufficientInventory), CodeInsufficientInventory},
		{"version conflict", domain.ErrConcurrentUpdate, CodeConcurrentUpdate},
		{"lock failure", fmt.Errorf("lock event e1: %w: %w", domain.ErrUnavailable, errors.New("zk: session expired")), CodeUnavailable},
		{"store dial failure", fmt.Errorf("save event e1: %w", dialErr), CodeUnavailable},
		{"bad connection", driver.ErrBadConn, CodeUnavailable},
		{"deadline", context.DeadlineExceeded, CodeUnavailable},
		{"integrity fault", fmt.Errorf("%w: drift", domain.ErrInventoryIntegrity), CodeInternal},
		{"integrity fault over a dead connection", fmt.Errorf("%w: %w", domain.ErrInventoryIntegrity, dialErr), CodeInternal},
		{"unknown", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestToError_Retryable(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{domain.ErrConcurrentUpdate, true},
		{fmt.Errorf("lock: %w", domain.ErrUnavailable), true},
		{domain.ErrReservationExpired, false},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		var e *Error
		if !errors.As(toError(tt.err), &e) {
			t.Fatalf("%v: expected *Error", tt.err)
		}
		if e.Retryable != tt.retryable {
			t.Errorf("%v: expected retryable=%v, got %v", tt.err, tt.retryable, e.Retryable)
		}
	}
}
