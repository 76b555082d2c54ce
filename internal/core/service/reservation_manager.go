package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/ticket-reservation/internal/clock"
	"github.com/rl1809/ticket-reservation/internal/core/domain"
	"github.com/rl1809/ticket-reservation/internal/metrics"
	"github.com/rl1809/ticket-reservation/internal/port"
)

const (
	defaultMaxRetries     = 5
	defaultRetryBackoff   = 10 * time.Millisecond
	defaultPublishTimeout = 2 * time.Second
)

// ReservationManager owns every mutation of an event's inventory. Each
// mutation runs under the per-event lock and is saved with a version check,
// reloading and retrying on conflict.
type ReservationManager struct {
	repo         port.EventRepository
	locker       port.Locker
	clock        clock.Clock
	publisher    port.EventPublisher
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	ttl            time.Duration
	maxRetries     int
	retryBackoff   time.Duration
	publishTimeout time.Duration
}

type ManagerOption func(*ReservationManager)

func WithClock(c clock.Clock) ManagerOption {
	return func(m *ReservationManager) { m.clock = c }
}

func WithPublisher(p port.EventPublisher) ManagerOption {
	return func(m *ReservationManager) { m.publisher = p }
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *ReservationManager) { m.metrics = mt }
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *ReservationManager) { m.logger = l }
}

// WithMaxRetries bounds how many times a conflicting save is retried.
func WithMaxRetries(n int) ManagerOption {
	return func(m *ReservationManager) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

// WithPublishTimeout bounds how long a mutation waits on the publisher after
// its change is saved.
func WithPublishTimeout(d time.Duration) ManagerOption {
	return func(m *ReservationManager) {
		if d > 0 {
			m.publishTimeout = d
		}
	}
}

func NewReservationManager(repo port.EventRepository, locker port.Locker, opts ...ManagerOption) *ReservationManager {
	m := &ReservationManager{
		repo:           repo,
		locker:         locker,
		clock:          clock.NewSystem(),
		publisher:      nopPublisher{},
		metrics:        metrics.New(nil),
		logger:         zerolog.Nop(),
		ttl:            domain.ReservationTTL,
		maxRetries:     defaultMaxRetries,
		retryBackoff:   defaultRetryBackoff,
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Hold reserves quantity tickets of ticketType for orderID.
func (m *ReservationManager) Hold(ctx context.Context, eventID, ticketType string, quantity int, orderID string) (domain.Reservation, error) {
	var held domain.Reservation
	_, err := m.mutate(ctx, eventID, func(ev *domain.Event, now time.Time) (bool, error) {
		r, err := ev.Hold(ticketType, quantity, orderID, now, m.ttl)
		if err != nil {
			return false, err
		}
		held = r
		return true, nil
	})
	m.metrics.Holds.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return domain.Reservation{}, err
	}

	m.logger.Debug().
		Str("event_id", eventID).
		Str("order_id", orderID).
		Str("ticket_type", ticketType).
		Int("quantity", quantity).
		Time("expires_at", held.ExpiresAt).
		Msg("tickets held")
	m.publish(ctx, domain.LifecycleEvent{
		Type:       domain.TicketsSecured,
		EventID:    eventID,
		OrderID:    orderID,
		TicketType: ticketType,
		Quantity:   quantity,
	})
	return held, nil
}

// Confirm finalizes the hold for orderID and returns the event details the
// order collaborator needs.
func (m *ReservationManager) Confirm(ctx context.Context, eventID, orderID string) (domain.EventSummary, error) {
	var held domain.Reservation
	ev, err := m.mutate(ctx, eventID, func(ev *domain.Event, now time.Time) (bool, error) {
		if err := ev.Confirm(orderID, now); err != nil {
			return false, err
		}
		held, _ = ev.Reservation(orderID)
		return true, nil
	})
	m.metrics.Confirms.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return domain.EventSummary{}, err
	}

	m.publish(ctx, domain.LifecycleEvent{
		Type:       domain.TicketsConfirmed,
		EventID:    eventID,
		OrderID:    orderID,
		TicketType: held.TicketType,
		Quantity:   held.Quantity,
	})
	return ev.Summary(), nil
}

// Release settles orderID after its deadline. It is idempotent: a missing
// reservation is a no-op, a confirmed one is only removed.
func (m *ReservationManager) Release(ctx context.Context, eventID, orderID string) (domain.ReleaseOutcome, error) {
	var (
		outcome domain.ReleaseOutcome
		held    domain.Reservation
	)
	_, err := m.mutate(ctx, eventID, func(ev *domain.Event, now time.Time) (bool, error) {
		held, _ = ev.Reservation(orderID)
		o, err := ev.Release(orderID, now)
		if err != nil {
			return false, err
		}
		outcome = o
		return o != domain.ReleaseNoop, nil
	})
	if err != nil {
		m.metrics.Releases.WithLabelValues(resultLabel(err)).Inc()
		return "", err
	}
	m.metrics.Releases.WithLabelValues(string(outcome)).Inc()

	switch outcome {
	case domain.ReleaseRestored:
		m.logger.Info().
			Str("event_id", eventID).
			Str("order_id", orderID).
			Int("quantity", held.Quantity).
			Msg("unconfirmed hold expired, tickets returned to stock")
		m.publish(ctx, domain.LifecycleEvent{
			Type:       domain.ReservationReleased,
			EventID:    eventID,
			OrderID:    orderID,
			TicketType: held.TicketType,
			Quantity:   held.Quantity,
		})
	case domain.ReleaseFinalized:
		m.publish(ctx, domain.LifecycleEvent{
			Type:       domain.ReservationFinalized,
			EventID:    eventID,
			OrderID:    orderID,
			TicketType: held.TicketType,
			Quantity:   held.Quantity,
		})
	}
	return outcome, nil
}

// Reschedule moves the event to new dates under the same discipline as the
// reservation mutations. A nil date keeps the current one.
func (m *ReservationManager) Reschedule(ctx context.Context, eventID string, startDate, endDate *time.Time) (domain.Event, error) {
	changed := false
	ev, err := m.mutate(ctx, eventID, func(ev *domain.Event, now time.Time) (bool, error) {
		c, err := ev.Reschedule(startDate, endDate)
		changed = c
		return c, err
	})
	if err != nil {
		return domain.Event{}, err
	}
	if !changed {
		return *ev, nil
	}

	m.logger.Info().
		Str("event_id", eventID).
		Time("start_date", ev.StartDate).
		Time("end_date", ev.EndDate).
		Msg("event rescheduled")
	start, end := ev.StartDate, ev.EndDate
	m.publish(ctx, domain.LifecycleEvent{
		Type:      domain.EventRescheduled,
		EventID:   eventID,
		StartDate: &start,
		EndDate:   &end,
	})
	return *ev, nil
}

// mutate loads the event, applies fn and saves the result, all under the
// per-event lock. fn reports whether it changed the event.
func (m *ReservationManager) mutate(ctx context.Context, eventID string, fn func(ev *domain.Event, now time.Time) (bool, error)) (*domain.Event, error) {
	unlock, err := m.locker.Lock(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("lock event %s: %w: %w", eventID, domain.ErrUnavailable, err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		ev, err := m.repo.LoadEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}

		now := m.clock.Now()
		changed, err := fn(ev, now)
		if err != nil {
			if errors.Is(err, domain.ErrInventoryIntegrity) {
				m.logger.Error().Err(err).Str("event_id", eventID).Msg("inventory integrity fault, operation aborted")
			}
			return nil, err
		}
		if ev.PruneSettlements(now) {
			changed = true
		}
		if !changed {
			return ev, nil
		}
		if err := ev.Verify(); err != nil {
			m.logger.Error().Err(err).Str("event_id", eventID).Msg("inventory integrity fault, operation aborted")
			return nil, err
		}

		ev.UpdatedAt = now
		err = m.repo.SaveEvent(ctx, ev, ev.Version)
		if err == nil {
			return ev, nil
		}
		if !errors.Is(err, domain.ErrConcurrentUpdate) {
			return nil, fmt.Errorf("save event %s: %w", eventID, err)
		}

		m.metrics.StoreConflicts.Inc()
		if attempt >= m.maxRetries {
			return nil, err
		}
		m.logger.Debug().Str("event_id", eventID).Int("attempt", attempt).Msg("version conflict, reloading event")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retryBackoff * time.Duration(attempt)):
		}
	}
}

// publish runs after the change is committed, so a slow broker is cut off
// rather than holding up the caller.
func (m *ReservationManager) publish(ctx context.Context, ev domain.LifecycleEvent) {
	ev.OccurredAt = m.clock.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.publishTimeout)
	defer cancel()
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.logger.Warn().Err(err).
			Str("type", string(ev.Type)).
			Str("order_id", ev.OrderID).
			Msg("failed to publish lifecycle event")
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.LifecycleEvent) error { return nil }
