package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/ticket-reservation/internal/core/service"
)

// ReservationServiceName is the fully qualified gRPC service name. Messages
// are google.protobuf.Struct values carrying the same JSON records as the
// HTTP API.
const ReservationServiceName = "ticketing.reservation.v1.ReservationService"

type ReservationServer interface {
	SecureTickets(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmTickets(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteAllReservations(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CreateEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateEventDates(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler[Req proto.Message](method string, newReq func() Req, call func(ReservationServer, context.Context, Req) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + ReservationServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReservationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReservationServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func newStruct() *structpb.Struct { return new(structpb.Struct) }

var ReservationServiceDesc = grpc.ServiceDesc{
	ServiceName: ReservationServiceName,
	HandlerType: (*ReservationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SecureTickets",
			Handler: unaryHandler("SecureTickets", newStruct, func(s ReservationServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.SecureTickets(ctx, in)
			}),
		},
		{
			MethodName: "ConfirmTickets",
			Handler: unaryHandler("ConfirmTickets", newStruct, func(s ReservationServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.ConfirmTickets(ctx, in)
			}),
		},
		{
			MethodName: "DeleteAllReservations",
			Handler: unaryHandler("DeleteAllReservations", func() *emptypb.Empty { return new(emptypb.Empty) }, func(s ReservationServer, ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
				return s.DeleteAllReservations(ctx, in)
			}),
		},
		{
			MethodName: "CreateEvent",
			Handler: unaryHandler("CreateEvent", newStruct, func(s ReservationServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.CreateEvent(ctx, in)
			}),
		},
		{
			MethodName: "GetEvent",
			Handler: unaryHandler("GetEvent", newStruct, func(s ReservationServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.GetEvent(ctx, in)
			}),
		},
		{
			MethodName: "UpdateEventDates",
			Handler: unaryHandler("UpdateEventDates", newStruct, func(s ReservationServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.UpdateEventDates(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ticketing/reservation/v1/reservation.proto",
}

func RegisterReservationServer(s grpc.ServiceRegistrar, srv ReservationServer) {
	s.RegisterService(&ReservationServiceDesc, srv)
}

// ReservationClient calls the reservation service with typed records.
type ReservationClient struct {
	cc grpc.ClientConnInterface
}

func NewReservationClient(cc grpc.ClientConnInterface) *ReservationClient {
	return &ReservationClient{cc: cc}
}

func (c *ReservationClient) invoke(ctx context.Context, method string, in proto.Message, out any) error {
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ReservationServiceName+"/"+method, in, resp); err != nil {
		return FromStatus(err)
	}
	return fromStruct(resp, out)
}

func (c *ReservationClient) SecureTickets(ctx context.Context, req service.SecureTicketsRequest) (service.SecureTicketsResponse, error) {
	var resp service.SecureTicketsResponse
	in, err := toStruct(req)
	if err != nil {
		return resp, err
	}
	err = c.invoke(ctx, "SecureTickets", in, &resp)
	return resp, err
}

func (c *ReservationClient) ConfirmTickets(ctx context.Context, req service.ConfirmTicketsRequest) (service.ConfirmTicketsResponse, error) {
	var resp service.ConfirmTicketsResponse
	in, err := toStruct(req)
	if err != nil {
		return resp, err
	}
	err = c.invoke(ctx, "ConfirmTickets", in, &resp)
	return resp, err
}

func (c *ReservationClient) DeleteAllReservations(ctx context.Context) (service.DeleteAllReservationsResponse, error) {
	var resp service.DeleteAllReservationsResponse
	err := c.invoke(ctx, "DeleteAllReservations", &emptypb.Empty{}, &resp)
	return resp, err
}

func (c *ReservationClient) CreateEvent(ctx context.Context, req service.CreateEventRequest) (EventView, error) {
	var resp EventView
	in, err := toStruct(req)
	if err != nil {
		return resp, err
	}
	err = c.invoke(ctx, "CreateEvent", in, &resp)
	return resp, err
}

func (c *ReservationClient) GetEvent(ctx context.Context, eventID string) (EventView, error) {
	var resp EventView
	in, err := toStruct(GetEventRequest{EventID: eventID})
	if err != nil {
		return resp, err
	}
	err = c.invoke(ctx, "GetEvent", in, &resp)
	return resp, err
}

func (c *ReservationClient) UpdateEventDates(ctx context.Context, req service.UpdateEventDatesRequest) (EventView, error) {
	var resp EventView
	in, err := toStruct(req)
	if err != nil {
		return resp, err
	}
	err = c.invoke(ctx, "UpdateEventDates", in, &resp)
	return resp, err
}

type GetEventRequest struct {
	EventID string `json:"eventId"`
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, out any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// GRPCCode maps a result code onto a gRPC status code.
func GRPCCode(code service.Code) codes.Code {
	switch code {
	case service.CodeInvalidRequest, service.CodeInvalidQuantity, service.CodeInvalidOrderID,
		service.CodeInvalidEventID, service.CodeInvalidEvent:
		return codes.InvalidArgument
	case service.CodeEventNotFound, service.CodeTicketTypeNotFound, service.CodeReservationNotFound:
		return codes.NotFound
	case service.CodeDuplicateReservation, service.CodeEventExists:
		return codes.AlreadyExists
	case service.CodeInsufficientInventory:
		return codes.ResourceExhausted
	case service.CodeAlreadyConfirmed, service.CodeReservationExpired:
		return codes.FailedPrecondition
	case service.CodeConcurrentUpdate, service.CodeUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// ToStatus renders an engine error as a gRPC status. The message starts with
// the result code so clients can recover it.
func ToStatus(err error) error {
	var e *service.Error
	if !errors.As(err, &e) {
		return status.Error(codes.Internal, string(service.CodeInternal)+": internal error")
	}
	return status.Error(GRPCCode(e.Code), string(e.Code)+": "+e.Message)
}

// FromStatus turns a gRPC error produced by ToStatus back into a
// *service.Error. Other errors are returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	code, msg, found := strings.Cut(st.Message(), ": ")
	if !found || code == "" || strings.ContainsAny(code, " \t") {
		return err
	}
	return &service.Error{
		Code:      service.Code(code),
		Message:   msg,
		Retryable: st.Code() == codes.Unavailable,
	}
}
