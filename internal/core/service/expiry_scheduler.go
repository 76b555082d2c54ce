package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/ticket-reservation/internal/clock"
	"github.com/rl1809/ticket-reservation/internal/core/domain"
	"github.com/rl1809/ticket-reservation/internal/metrics"
)

const (
	defaultReleaseRetryDelay = 5 * time.Second
	releaseTimeout           = 10 * time.Second
)

// Releaser settles a reservation once its deadline has passed.
type Releaser interface {
	Release(ctx context.Context, eventID, orderID string) (domain.ReleaseOutcome, error)
}

// DeadlineLister is the store query behind the startup sweep.
type DeadlineLister interface {
	ListPendingReservations(ctx context.Context) ([]domain.ReservationDeadline, error)
}

type timerKey struct {
	eventID string
	orderID string
}

// ExpiryScheduler arms one timer per reservation and calls Release when it
// fires. Deadlines come from the store, so a restart loses nothing: Start
// re-arms every reservation still persisted and releases past-due ones at once.
type ExpiryScheduler struct {
	releaser      Releaser
	lister        DeadlineLister
	clock         clock.Clock
	metrics       *metrics.Metrics
	logger        zerolog.Logger
	retryDelay    time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	timers  map[timerKey]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

type SchedulerOption func(*ExpiryScheduler)

func WithSchedulerClock(c clock.Clock) SchedulerOption {
	return func(s *ExpiryScheduler) { s.clock = c }
}

func WithSchedulerLogger(l zerolog.Logger) SchedulerOption {
	return func(s *ExpiryScheduler) { s.logger = l }
}

func WithSchedulerMetrics(mt *metrics.Metrics) SchedulerOption {
	return func(s *ExpiryScheduler) { s.metrics = mt }
}

// WithRetryDelay sets how long to wait before retrying a failed release.
func WithRetryDelay(d time.Duration) SchedulerOption {
	return func(s *ExpiryScheduler) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithSweepInterval re-runs the sweep periodically, picking up reservations
// written by other instances. Zero disables it.
func WithSweepInterval(d time.Duration) SchedulerOption {
	return func(s *ExpiryScheduler) { s.sweepInterval = d }
}

func NewExpiryScheduler(releaser Releaser, lister DeadlineLister, opts ...SchedulerOption) *ExpiryScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &ExpiryScheduler{
		releaser:   releaser,
		lister:     lister,
		clock:      clock.NewSystem(),
		metrics:    metrics.New(nil),
		logger:     zerolog.Nop(),
		retryDelay: defaultReleaseRetryDelay,
		timers:     make(map[timerKey]*time.Timer),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the startup sweep and, if configured, the periodic sweep until
// ctx is done.
func (s *ExpiryScheduler) Start(ctx context.Context) error {
	n, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	s.logger.Info().Int("reservations", n).Msg("expiry sweep complete")

	if s.sweepInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sweepLoop(ctx)
		}()
	}
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then stops it.
func (s *ExpiryScheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Sweep arms a timer for every persisted reservation not already tracked and
// returns how many were found.
func (s *ExpiryScheduler) Sweep(ctx context.Context) (int, error) {
	deadlines, err := s.lister.ListPendingReservations(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range deadlines {
		s.Schedule(d.EventID, d.OrderID, d.ExpiresAt)
	}
	return len(deadlines), nil
}

func (s *ExpiryScheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("periodic expiry sweep failed")
			}
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// Schedule arms the expiry of one reservation. A reservation that already has
// a timer is left alone; a deadline in the past fires immediately.
func (s *ExpiryScheduler) Schedule(eventID, orderID string, expiresAt time.Time) {
	s.arm(timerKey{eventID: eventID, orderID: orderID}, expiresAt.Sub(s.clock.Now()), false)
}

func (s *ExpiryScheduler) arm(key timerKey, delay time.Duration, replace bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if _, ok := s.timers[key]; ok && !replace {
		return
	}
	if delay < 0 {
		delay = 0
	}
	if _, ok := s.timers[key]; !ok {
		s.metrics.ScheduledTimers.Inc()
	}
	s.timers[key] = time.AfterFunc(delay, func() { s.fire(key) })
}

// Pending reports how many timers are armed.
func (s *ExpiryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *ExpiryScheduler) fire(key timerKey) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, releaseTimeout)
	_, err := s.releaser.Release(ctx, key.eventID, key.orderID)
	cancel()

	if err != nil && retryable(err) {
		s.logger.Warn().Err(err).
			Str("event_id", key.eventID).
			Str("order_id", key.orderID).
			Dur("retry_in", s.retryDelay).
			Msg("release failed, will retry")
		s.arm(key, s.retryDelay, true)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("event_id", key.eventID).
			Str("order_id", key.orderID).
			Msg("release abandoned")
	}

	s.mu.Lock()
	if _, ok := s.timers[key]; ok {
		delete(s.timers, key)
		s.metrics.ScheduledTimers.Dec()
	}
	s.mu.Unlock()
}

// retryable reports whether a failed release should be attempted again.
// Missing events and integrity faults will not heal by waiting.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrEventNotFound),
		errors.Is(err, domain.ErrInventoryIntegrity),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Stop disarms every timer and waits for in-flight releases. Reservations
// stay persisted and are picked up by the next Start.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
		s.metrics.ScheduledTimers.Dec()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
