package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"campusRobotDelivery/internal/auth"
	"campusRobotDelivery/internal/lifecycle"
	"campusRobotDelivery/internal/logger"
	"campusRobotDelivery/internal/orders"
	"campusRobotDelivery/internal/telemetry"
	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DispatchServiceName is the fully qualified gRPC service name.
const DispatchServiceName = "dispatch.v1.DispatchService"

// DispatchServiceServer is the server API for dispatch.v1.DispatchService.
// Requests and responses are google.protobuf.Struct documents.
type DispatchServiceServer interface {
	UpdateOrderStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRobots(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TriggerDispatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FleetSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// OrderService changes and reads orders.
type OrderService interface {
	Get(ctx context.Context, id int64) (*models.Order, error)
	ChangeStatus(ctx context.Context, id int64, st models.OrderStatus) (*models.Order, error)
}

// RobotLister lists the real robots.
type RobotLister interface {
	ListRobots(ctx context.Context) ([]models.Robot, error)
}

// DispatchRunner runs one dispatch pass.
type DispatchRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

// VendorLookup resolves the restaurant an order was placed at.
type VendorLookup interface {
	GetByID(ctx context.Context, id int64) (*models.Restaurant, error)
}

// DispatchServer implements DispatchServiceServer.
type DispatchServer struct {
	Users   auth.UserLookup
	Vendors VendorLookup
	Orders  OrderService
	Robots  RobotLister
	// Dispatcher and Fleet may be nil. TriggerDispatch then reports
	// FailedPrecondition and FleetSnapshot reports Unavailable.
	Dispatcher DispatchRunner
	Fleet      telemetry.SnapshotSource
	Log        logrus.FieldLogger
}

var _ DispatchServiceServer = (*DispatchServer)(nil)

// UpdateOrderStatus applies {orderId, status}. Admins may change any order;
// vendors only orders placed at a restaurant they own.
func (s *DispatchServer) UpdateOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.RequireAnyKind(ctx, models.RoleAdmin, models.RoleVendor)
	if err != nil {
		return nil, err
	}
	if p.Kind == models.RoleAdmin {
		if _, err := auth.RequireAdmin(ctx, s.Users); err != nil {
			return nil, err
		}
	}
	id, err := orderIDFrom(req)
	if err != nil {
		return nil, err
	}
	st := models.OrderStatus(strings.ToUpper(strings.TrimSpace(req.GetFields()["status"].GetStringValue())))
	if !st.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", st)
	}
	if p.Kind == models.RoleVendor {
		current, err := s.Orders.Get(ctx, id)
		if err != nil {
			return nil, toStatus(err)
		}
		if err := s.requireVendorOwns(ctx, p, current); err != nil {
			return nil, err
		}
	}
	order, err := s.Orders.ChangeStatus(ctx, id, st)
	if err != nil {
		// The status is persisted even when the follow-up hook failed.
		if order != nil {
			s.logger().WithError(err).WithField("order_id", id).Warn("status changed but follow-up failed")
			return toStruct(map[string]any{"order": order, "warning": err.Error()})
		}
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"order": order})
}

func (s *DispatchServer) requireVendorOwns(ctx context.Context, p *auth.Principal, order *models.Order) error {
	if s.Users == nil || s.Vendors == nil {
		return status.Error(codes.Internal, "vendor lookup not configured")
	}
	u, err := s.Users.GetByEmail(ctx, p.Name)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return status.Errorf(codes.Internal, "get user: %v", err)
	}
	if u == nil {
		return status.Error(codes.PermissionDenied, "unknown vendor")
	}
	rs, err := s.Vendors.GetByID(ctx, order.VendorID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return status.Errorf(codes.Internal, "get restaurant: %v", err)
	}
	if rs == nil || rs.OwnerID == nil || *rs.OwnerID != u.ID {
		return status.Error(codes.PermissionDenied, "order belongs to another vendor")
	}
	return nil
}

// GetOrder returns {order}. Customers may only read their own orders.
func (s *DispatchServer) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := orderIDFrom(req)
	if err != nil {
		return nil, err
	}
	order, err := s.Orders.Get(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	if p.Kind == models.RoleCustomer {
		if s.Users == nil {
			return nil, status.Error(codes.Internal, "users repository not configured")
		}
		u, err := s.Users.GetByEmail(ctx, p.Name)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, status.Errorf(codes.Internal, "get user: %v", err)
		}
		if u == nil || u.ID != order.UserID {
			return nil, status.Error(codes.NotFound, "order not found")
		}
	}
	return toStruct(map[string]any{"order": order})
}

// ListRobots returns {robots}.
func (s *DispatchServer) ListRobots(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if _, err := auth.RequirePrincipal(ctx); err != nil {
		return nil, err
	}
	robots, err := s.Robots.ListRobots(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if robots == nil {
		robots = []models.Robot{}
	}
	return toStruct(map[string]any{"robots": robots})
}

// TriggerDispatch runs one dispatch pass now and returns {assigned}. Admin only.
func (s *DispatchServer) TriggerDispatch(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if _, err := auth.RequireAdmin(ctx, s.Users); err != nil {
		return nil, err
	}
	if s.Dispatcher == nil {
		return nil, status.Error(codes.FailedPrecondition, "robot assignment is disabled")
	}
	n, err := s.Dispatcher.RunOnce(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"assigned": n})
}

// FleetSnapshot returns the simulated fleet.
func (s *DispatchServer) FleetSnapshot(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if _, err := auth.RequirePrincipal(ctx); err != nil {
		return nil, err
	}
	if s.Fleet == nil {
		return nil, status.Error(codes.Unavailable, "fleet simulation disabled")
	}
	return toStruct(s.Fleet.Snapshot())
}

func (s *DispatchServer) logger() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logger.GetAppLogger()
}

func orderIDFrom(req *structpb.Struct) (int64, error) {
	v, ok := req.GetFields()["orderId"]
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "orderId is required")
	}
	n := v.GetNumberValue()
	if n < 1 || n != math.Trunc(n) || n > math.MaxInt64 {
		return 0, status.Errorf(codes.InvalidArgument, "invalid orderId %v", n)
	}
	return int64(n), nil
}

// toStruct converts v to a Struct through its JSON form so field names
// follow the json tags of the models.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, lifecycle.ErrIllegalTransition),
		errors.Is(err, orders.ErrManualAssignment),
		errors.Is(err, repository.ErrStatusMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Errorf(codes.Internal, "%v", err)
}

// RegisterDispatchServiceServer registers srv on s.
func RegisterDispatchServiceServer(s grpc.ServiceRegistrar, srv DispatchServiceServer) {
	s.RegisterService(&DispatchService_ServiceDesc, srv)
}

func unaryHandler(method string, call func(DispatchServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DispatchServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + DispatchServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(DispatchServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// DispatchService_ServiceDesc is the grpc.ServiceDesc for dispatch.v1.DispatchService.
var DispatchService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: DispatchServiceName,
	HandlerType: (*DispatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("UpdateOrderStatus", DispatchServiceServer.UpdateOrderStatus),
		unaryHandler("GetOrder", DispatchServiceServer.GetOrder),
		unaryHandler("ListRobots", DispatchServiceServer.ListRobots),
		unaryHandler("TriggerDispatch", DispatchServiceServer.TriggerDispatch),
		unaryHandler("FleetSnapshot", DispatchServiceServer.FleetSnapshot),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dispatch/v1/dispatch.proto",
}
