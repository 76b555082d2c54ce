package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/rl1809/ticket-reservation/internal/core/domain"
	"github.com/rl1809/ticket-reservation/internal/core/service"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

type HTTPHandler struct {
	engine *service.Engine
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type TicketCategoryView struct {
	Type              string  `json:"type"`
	Price             float64 `json:"price"`
	InitialQuantity   int     `json:"initialQuantity"`
	AvailableQuantity int     `json:"availableQuantity"`
}

// EventView is the JSON rendering of an event. LowestPrice is null while
// nothing is on sale.
type EventView struct {
	ID                    string               `json:"id"`
	Name                  string               `json:"name"`
	Description           string               `json:"description"`
	Location              string               `json:"location"`
	Organizer             string               `json:"organizer"`
	Category              string               `json:"category"`
	StartDate             time.Time            `json:"startDate"`
	EndDate               time.Time            `json:"endDate"`
	TicketCategories      []TicketCategoryView `json:"ticketCategories"`
	TotalAvailableTickets int                  `json:"totalAvailableTickets"`
	LowestPrice           *float64             `json:"lowestPrice"`
	PendingReservations   int                  `json:"pendingReservations"`
	Version               int                  `json:"version"`
}

func NewEventView(ev domain.Event) EventView {
	view := EventView{
		ID:                    ev.ID,
		Name:                  ev.Name,
		Description:           ev.Description,
		Location:              ev.Location,
		Organizer:             ev.Organizer,
		Category:              ev.Category,
		StartDate:             ev.StartDate,
		EndDate:               ev.EndDate,
		TicketCategories:      make([]TicketCategoryView, 0, len(ev.TicketCategories)),
		TotalAvailableTickets: ev.TotalAvailableTickets,
		PendingReservations:   len(ev.Reservations),
		Version:               ev.Version,
	}
	for _, c := range ev.TicketCategories {
		view.TicketCategories = append(view.TicketCategories, TicketCategoryView(c))
	}
	if ev.LowestPrice != domain.UnavailablePrice {
		price := ev.LowestPrice
		view.LowestPrice = &price
	}
	return view
}

func NewHTTPHandler(engine *service.Engine) *HTTPHandler {
	return &HTTPHandler{engine: engine}
}

// Register mounts the API routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/event/secure", h.SecureTickets)
	mux.HandleFunc("POST /api/event/confirm", h.ConfirmTickets)
	mux.HandleFunc("DELETE /api/event/reservations", h.DeleteAllReservations)
	mux.HandleFunc("POST /api/event", h.CreateEvent)
	mux.HandleFunc("GET /api/event/{eventId}", h.GetEvent)
	mux.HandleFunc("PUT /api/event/{eventId}", h.UpdateEventDates)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return service.DecodeRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes), v)
}

func (h *HTTPHandler) SecureTickets(w http.ResponseWriter, r *http.Request) {
	var req service.SecureTicketsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.engine.SecureTickets(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) ConfirmTickets(w http.ResponseWriter, r *http.Request) {
	var req service.ConfirmTicketsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.engine.ConfirmTickets(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) DeleteAllReservations(w http.ResponseWriter, r *http.Request) {
	resp, err := h.engine.DeleteAllReservations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req service.CreateEventRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ev, err := h.engine.CreateEvent(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, NewEventView(ev))
}

func (h *HTTPHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.engine.GetEvent(r.Context(), r.PathValue("eventId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewEventView(ev))
}

func (h *HTTPHandler) UpdateEventDates(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateEventDatesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.EventID = r.PathValue("eventId")

	ev, err := h.engine.UpdateEventDates(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewEventView(ev))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusFor maps a result code onto an HTTP status.
func StatusFor(code service.Code) int {
	switch code {
	case service.CodeInvalidRequest, service.CodeInvalidQuantity, service.CodeInvalidOrderID,
		service.CodeInvalidEventID, service.CodeInvalidEvent:
		return http.StatusBadRequest
	case service.CodeEventNotFound, service.CodeTicketTypeNotFound, service.CodeReservationNotFound:
		return http.StatusNotFound
	case service.CodeInsufficientInventory:
		return http.StatusGone
	case service.CodeDuplicateReservation, service.CodeAlreadyConfirmed,
		service.CodeReservationExpired, service.CodeEventExists:
		return http.StatusConflict
	case service.CodeConcurrentUpdate, service.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: string(service.CodeInternal), Message: "internal error"}
	var e *service.Error
	if errors.As(err, &e) {
		resp = ErrorResponse{Error: string(e.Code), Message: e.Message, Retryable: e.Retryable}
	}
	if resp.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	status := StatusFor(service.Code(resp.Error))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger attaches a request-scoped logger to the context, continues
// any incoming trace and logs one line per request.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			reqLogger := logger.With().Str("request_id", requestID).Logger()
			ctx = reqLogger.WithContext(ctx)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			w.Header().Set("X-Request-Id", requestID)
			next.ServeHTTP(rec, r.WithContext(ctx))

			reqLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
