package handler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/ticket-reservation/internal/core/service"
)

type GRPCHandler struct {
	engine *service.Engine
}

var _ ReservationServer = (*GRPCHandler)(nil)

func NewGRPCHandler(engine *service.Engine) *GRPCHandler {
	return &GRPCHandler{engine: engine}
}

func (h *GRPCHandler) SecureTickets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req service.SecureTicketsRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, ToStatus(err)
	}

	resp, err := h.engine.SecureTickets(ctx, req)
	if err != nil {
		return nil, ToStatus(err)
	}
	return respond(resp)
}

func (h *GRPCHandler) ConfirmTickets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req service.ConfirmTicketsRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, ToStatus(err)
	}

	resp, err := h.engine.ConfirmTickets(ctx, req)
	if err != nil {
		return nil, ToStatus(err)
	}
	return respond(resp)
}

func (h *GRPCHandler) DeleteAllReservations(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	resp, err := h.engine.DeleteAllReservations(ctx)
	if err != nil {
		return nil, ToStatus(err)
	}
	return respond(resp)
}

func (h *GRPCHandler) CreateEvent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req service.CreateEventRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, ToStatus(err)
	}

	ev, err := h.engine.CreateEvent(ctx, req)
	if err != nil {
		return nil, ToStatus(err)
	}
	return respond(NewEventView(ev))
}

func (h *GRPCHandler) GetEvent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req GetEventRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, ToStatus(err)
	}

	ev, err := h.engine.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, ToStatus(err)
	}
	return respond(NewEventView(ev))
}

func (h *GRPCHandler) UpdateEventDates(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req service.UpdateEventDatesRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, ToStatus(err)
	}

	ev, err := h.engine.UpdateEventDates(ctx, req)
	if err != nil {
		return nil, ToStatus(err)
	}
	return respond(NewEventView(ev))
}

// decodeStruct applies the same strict decoding as the HTTP API.
func decodeStruct(in *structpb.Struct, v any) error {
	data, err := in.MarshalJSON()
	if err != nil {
		return err
	}
	return service.DecodeRequestBytes(data, v)
}

func respond(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, ToStatus(err)
	}
	return out, nil
}

// UnaryLogger is the gRPC counterpart of RequestLogger.
func UnaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get("x-request-id"); len(ids) > 0 {
				requestID = ids[0]
			}
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}

		reqLogger := logger.With().Str("request_id", requestID).Logger()
		resp, err := handler(reqLogger.WithContext(ctx), req)

		reqLogger.Info().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")
		return resp, err
	}
}
