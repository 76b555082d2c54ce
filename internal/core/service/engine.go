package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/ticket-reservation/internal/clock"
	"github.com/rl1809/ticket-reservation/internal/core/domain"
	"github.com/rl1809/ticket-reservation/internal/port"
)

var (
	tracer    = otel.Tracer("ticket-reservation/engine")
	idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)
)

type SecureTicketsRequest struct {
	EventID    string `json:"eventId"`
	TicketType string `json:"ticketType"`
	Quantity   int    `json:"quantity"`
	OrderID    string `json:"orderId"`
}

func (r SecureTicketsRequest) Validate() error {
	if !idPattern.MatchString(r.EventID) {
		return domain.ErrInvalidEventID
	}
	if !idPattern.MatchString(r.OrderID) {
		return domain.ErrInvalidOrderID
	}
	if r.TicketType == "" {
		return invalidRequest("ticketType is required")
	}
	if r.Quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	return nil
}

type SecureTicketsResponse struct {
	OrderID   string    `json:"orderId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ConfirmTicketsRequest struct {
	EventID string `json:"eventId"`
	OrderID string `json:"orderId"`
}

func (r ConfirmTicketsRequest) Validate() error {
	if !idPattern.MatchString(r.EventID) {
		return domain.ErrInvalidEventID
	}
	if !idPattern.MatchString(r.OrderID) {
		return domain.ErrInvalidOrderID
	}
	return nil
}

type ConfirmTicketsResponse struct {
	EventName   string    `json:"eventName"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Organizer   string    `json:"organizer"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
}

type TicketCategoryRequest struct {
	Type              string  `json:"type"`
	Price             float64 `json:"price"`
	AvailableQuantity int     `json:"availableQuantity"`
}

type CreateEventRequest struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Location    string                  `json:"location"`
	Organizer   string                  `json:"organizer"`
	Category    string                  `json:"category"`
	StartDate   time.Time               `json:"startDate"`
	EndDate     time.Time               `json:"endDate"`
	Tickets     []TicketCategoryRequest `json:"tickets"`
}

// UpdateEventDatesRequest reschedules an event. Omitted dates are kept.
type UpdateEventDatesRequest struct {
	EventID   string     `json:"eventId"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

func (r UpdateEventDatesRequest) Validate() error {
	if !idPattern.MatchString(r.EventID) {
		return domain.ErrInvalidEventID
	}
	if r.StartDate == nil && r.EndDate == nil {
		return invalidRequest("startDate or endDate is required")
	}
	return nil
}

type DeleteAllReservationsResponse struct {
	Released  int `json:"released"`
	Finalized int `json:"finalized"`
}

// DecodeRequest strictly decodes a JSON request record: unknown fields and
// trailing data are rejected.
func DecodeRequest(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidBody(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return invalidRequest("invalid request body: trailing data")
	}
	return nil
}

// DecodeRequestBytes is DecodeRequest over a byte slice.
func DecodeRequestBytes(data []byte, v any) error {
	return DecodeRequest(bytes.NewReader(data), v)
}

// Engine is the public surface of the reservation engine. It validates input,
// drives the reservation manager and scheduler, and turns failures into
// *Error values carrying a result code.
type Engine struct {
	manager   *ReservationManager
	scheduler *ExpiryScheduler
	repo      port.EventRepository
	clock     clock.Clock
	logger    zerolog.Logger
}

func NewEngine(manager *ReservationManager, scheduler *ExpiryScheduler, repo port.EventRepository, logger zerolog.Logger) *Engine {
	return &Engine{
		manager:   manager,
		scheduler: scheduler,
		repo:      repo,
		clock:     manager.clock,
		logger:    logger,
	}
}

func (e *Engine) SecureTickets(ctx context.Context, req SecureTicketsRequest) (SecureTicketsResponse, error) {
	ctx, span := tracer.Start(ctx, "engine.SecureTickets", trace.WithAttributes(
		attribute.String("event.id", req.EventID),
		attribute.String("order.id", req.OrderID),
		attribute.String("ticket.type", req.TicketType),
		attribute.Int("ticket.quantity", req.Quantity),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return SecureTicketsResponse{}, e.fail(ctx, span, err)
	}

	held, err := e.manager.Hold(ctx, req.EventID, req.TicketType, req.Quantity, req.OrderID)
	if err != nil {
		return SecureTicketsResponse{}, e.fail(ctx, span, err)
	}
	e.scheduler.Schedule(req.EventID, held.OrderID, held.ExpiresAt)

	return SecureTicketsResponse{OrderID: held.OrderID, ExpiresAt: held.ExpiresAt}, nil
}

func (e *Engine) ConfirmTickets(ctx context.Context, req ConfirmTicketsRequest) (ConfirmTicketsResponse, error) {
	ctx, span := tracer.Start(ctx, "engine.ConfirmTickets", trace.WithAttributes(
		attribute.String("event.id", req.EventID),
		attribute.String("order.id", req.OrderID),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return ConfirmTicketsResponse{}, e.fail(ctx, span, err)
	}

	summary, err := e.manager.Confirm(ctx, req.EventID, req.OrderID)
	if err != nil {
		return ConfirmTicketsResponse{}, e.fail(ctx, span, err)
	}

	return ConfirmTicketsResponse{
		EventName:   summary.EventName,
		Description: summary.Description,
		Location:    summary.Location,
		Organizer:   summary.Organizer,
		StartDate:   summary.StartDate,
		EndDate:     summary.EndDate,
	}, nil
}

// DeleteAllReservations settles every stored reservation right away. Unconfirmed
// holds give their tickets back, so the counters stay consistent. Meant for
// administration and tests.
func (e *Engine) DeleteAllReservations(ctx context.Context) (DeleteAllReservationsResponse, error) {
	ctx, span := tracer.Start(ctx, "engine.DeleteAllReservations")
	defer span.End()

	deadlines, err := e.repo.ListPendingReservations(ctx)
	if err != nil {
		return DeleteAllReservationsResponse{}, e.fail(ctx, span, err)
	}

	var resp DeleteAllReservationsResponse
	for _, d := range deadlines {
		outcome, err := e.manager.Release(ctx, d.EventID, d.OrderID)
		if err != nil {
			return resp, e.fail(ctx, span, fmt.Errorf("release %s/%s: %w", d.EventID, d.OrderID, err))
		}
		switch outcome {
		case domain.ReleaseRestored:
			resp.Released++
		case domain.ReleaseFinalized:
			resp.Finalized++
		}
	}

	e.logger.Info().Int("released", resp.Released).Int("finalized", resp.Finalized).Msg("all reservations deleted")
	return resp, nil
}

func (e *Engine) CreateEvent(ctx context.Context, req CreateEventRequest) (domain.Event, error) {
	ctx, span := tracer.Start(ctx, "engine.CreateEvent")
	defer span.End()

	now := e.clock.Now()
	ev := &domain.Event{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Organizer:   req.Organizer,
		Category:    req.Category,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, t := range req.Tickets {
		ev.TicketCategories = append(ev.TicketCategories, domain.TicketCategory{
			Type:            t.Type,
			Price:           t.Price,
			InitialQuantity: t.AvailableQuantity,
		})
	}
	if err := ev.Validate(); err != nil {
		return domain.Event{}, e.fail(ctx, span, err)
	}
	ev.Stock()

	if err := e.repo.CreateEvent(ctx, ev); err != nil {
		return domain.Event{}, e.fail(ctx, span, err)
	}
	span.SetAttributes(attribute.String("event.id", ev.ID))
	e.logger.Info().Str("event_id", ev.ID).Int("tickets", ev.TotalAvailableTickets).Msg("event created")
	return *ev, nil
}

func (e *Engine) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	ctx, span := tracer.Start(ctx, "engine.GetEvent", trace.WithAttributes(attribute.String("event.id", eventID)))
	defer span.End()

	if !idPattern.MatchString(eventID) {
		return domain.Event{}, e.fail(ctx, span, domain.ErrInvalidEventID)
	}
	ev, err := e.repo.LoadEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, e.fail(ctx, span, err)
	}
	return *ev, nil
}

// UpdateEventDates moves an event to new dates. The start date can only be
// postponed.
func (e *Engine) UpdateEventDates(ctx context.Context, req UpdateEventDatesRequest) (domain.Event, error) {
	ctx, span := tracer.Start(ctx, "engine.UpdateEventDates", trace.WithAttributes(attribute.String("event.id", req.EventID)))
	defer span.End()

	if err := req.Validate(); err != nil {
		return domain.Event{}, e.fail(ctx, span, err)
	}
	ev, err := e.manager.Reschedule(ctx, req.EventID, req.StartDate, req.EndDate)
	if err != nil {
		return domain.Event{}, e.fail(ctx, span, err)
	}
	return ev, nil
}

func (e *Engine) fail(ctx context.Context, span trace.Span, err error) error {
	out := toError(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(CodeOf(out)))
	if CodeOf(out) == CodeInternal {
		logger := zerolog.Ctx(ctx)
		if logger.GetLevel() == zerolog.Disabled {
			logger = &e.logger
		}
		logger.Error().Err(err).Msg("reservation engine internal error")
	}
	return out
}
