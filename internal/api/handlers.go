package api

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"resortwala/internal/domain"
	"resortwala/internal/models"
	"resortwala/internal/service"
)

const (
	availabilityServiceName = "resortwala.availability.v1.AvailabilityService"
	methodCheckAvailability = "/" + availabilityServiceName + "/CheckAvailability"
	methodGetCalendar       = "/" + availabilityServiceName + "/GetCalendar"
	healthMethodPrefix      = "/grpc.health.v1.Health/"
)

// AvailabilityServer is the gRPC availability API. Requests and responses
// are google.protobuf.Struct values with the same fields as the REST API.
type AvailabilityServer interface {
	CheckAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetCalendar(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var availabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*AvailabilityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckAvailability", Handler: checkAvailabilityHandler},
		{MethodName: "GetCalendar", Handler: getCalendarHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "resortwala/availability/v1/availability.proto",
}

func RegisterAvailabilityServer(s grpc.ServiceRegistrar, srv AvailabilityServer) {
	s.RegisterService(&availabilityServiceDesc, srv)
}

func checkAvailabilityHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AvailabilityServer).CheckAvailability(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCheckAvailability}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AvailabilityServer).CheckAvailability(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getCalendarHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AvailabilityServer).GetCalendar(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetCalendar}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AvailabilityServer).GetCalendar(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type AvailabilityService struct {
	calendar *service.CalendarService
}

func NewAvailabilityService(calendar *service.CalendarService) *AvailabilityService {
	return &AvailabilityService{calendar: calendar}
}

// CheckAvailability expects property_id, check_in and check_out.
func (s *AvailabilityService) CheckAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	propertyID, err := propertyIDField(req)
	if err != nil {
		return nil, err
	}
	r, err := service.ParseRange(stringField(req, "check_in"), stringField(req, "check_out"))
	if err != nil {
		return nil, grpcError(err)
	}

	result, err := s.calendar.CheckAvailability(ctx, propertyID, r)
	if err != nil {
		return nil, grpcError(err)
	}

	conflicts := make([]any, 0, len(result.Conflicts))
	for _, d := range result.Conflicts {
		conflicts = append(conflicts, d)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"property_id": result.PropertyID,
		"check_in":    result.CheckIn,
		"check_out":   result.CheckOut,
		"available":   result.Available,
		"conflicts":   conflicts,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to build response")
	}
	return resp, nil
}

// GetCalendar expects property_id, from and to.
func (s *AvailabilityService) GetCalendar(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	propertyID, err := propertyIDField(req)
	if err != nil {
		return nil, err
	}
	r, err := service.ParseRange(stringField(req, "from"), stringField(req, "to"))
	if err != nil {
		return nil, grpcError(err)
	}

	days, err := s.calendar.GetCalendar(ctx, propertyID, r)
	if err != nil {
		return nil, grpcError(err)
	}

	list := make([]any, 0, len(days))
	for _, d := range days {
		list = append(list, map[string]any{
			"date":      d.Date.Format(models.DateLayout),
			"available": d.Available,
			"reason":    d.Reason,
		})
	}
	resp, err := structpb.NewStruct(map[string]any{
		"property_id": propertyID,
		"from":        r.Start.Format(models.DateLayout),
		"to":          r.End.Format(models.DateLayout),
		"days":        list,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to build response")
	}
	return resp, nil
}

func propertyIDField(req *structpb.Struct) (int64, error) {
	v, ok := req.GetFields()["property_id"]
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "property_id is required")
	}
	id := int64(v.GetNumberValue())
	if id <= 0 || float64(id) != v.GetNumberValue() {
		return 0, status.Error(codes.InvalidArgument, "property_id must be a positive integer")
	}
	return id, nil
}

func stringField(req *structpb.Struct, name string) string {
	return strings.TrimSpace(req.GetFields()[name].GetStringValue())
}

func grpcError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrPastDate),
		errors.Is(err, domain.ErrDateTooFar):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrConcurrentModification):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
