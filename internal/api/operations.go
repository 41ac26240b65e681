package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// OperationsServiceName is the fully qualified gRPC service name.
const OperationsServiceName = "autoops.v1.Operations"

// Method names of the Operations service.
const (
	MethodRecordMetric            = "RecordMetric"
	MethodPredictMetric           = "PredictMetric"
	MethodDetectThreat            = "DetectThreat"
	MethodResolveThreat           = "ResolveThreat"
	MethodMarkFalsePositive       = "MarkFalsePositive"
	MethodListThreats             = "ListThreats"
	MethodCreateResponsePlan      = "CreateResponsePlan"
	MethodExecuteResponsePlan     = "ExecuteResponsePlan"
	MethodRunHealthCheck          = "RunHealthCheck"
	MethodListHealthChecks        = "ListHealthChecks"
	MethodEnablePolicy            = "EnablePolicy"
	MethodDisablePolicy           = "DisablePolicy"
	MethodScheduleMaintenanceTask = "ScheduleMaintenanceTask"
	MethodExecuteMaintenanceTask  = "ExecuteMaintenanceTask"
)

// OperationsServer is the server API of the Operations service. Every request and
// response is a JSON-shaped structpb.Struct.
type OperationsServer interface {
	RecordMetric(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PredictMetric(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DetectThreat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveThreat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkFalsePositive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListThreats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateResponsePlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExecuteResponsePlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunHealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListHealthChecks(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EnablePolicy(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DisablePolicy(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ScheduleMaintenanceTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExecuteMaintenanceTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(OperationsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OperationsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OperationsServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FullMethod returns the gRPC path of method.
func FullMethod(method string) string {
	return "/" + OperationsServiceName + "/" + method
}

// OperationsServiceDesc describes the Operations service for grpc.Server.RegisterService.
var OperationsServiceDesc = grpc.ServiceDesc{
	ServiceName: OperationsServiceName,
	HandlerType: (*OperationsServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodRecordMetric, OperationsServer.RecordMetric),
		unaryMethod(MethodPredictMetric, OperationsServer.PredictMetric),
		unaryMethod(MethodDetectThreat, OperationsServer.DetectThreat),
		unaryMethod(MethodResolveThreat, OperationsServer.ResolveThreat),
		unaryMethod(MethodMarkFalsePositive, OperationsServer.MarkFalsePositive),
		unaryMethod(MethodListThreats, OperationsServer.ListThreats),
		unaryMethod(MethodCreateResponsePlan, OperationsServer.CreateResponsePlan),
		unaryMethod(MethodExecuteResponsePlan, OperationsServer.ExecuteResponsePlan),
		unaryMethod(MethodRunHealthCheck, OperationsServer.RunHealthCheck),
		unaryMethod(MethodListHealthChecks, OperationsServer.ListHealthChecks),
		unaryMethod(MethodEnablePolicy, OperationsServer.EnablePolicy),
		unaryMethod(MethodDisablePolicy, OperationsServer.DisablePolicy),
		unaryMethod(MethodScheduleMaintenanceTask, OperationsServer.ScheduleMaintenanceTask),
		unaryMethod(MethodExecuteMaintenanceTask, OperationsServer.ExecuteMaintenanceTask),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "autoops/v1/operations.proto",
}

// RegisterOperationsServer registers srv with s.
func RegisterOperationsServer(s grpc.ServiceRegistrar, srv OperationsServer) {
	s.RegisterService(&OperationsServiceDesc, srv)
}

// OperationsClient calls Operations methods by name.
type OperationsClient struct {
	cc grpc.ClientConnInterface
}

// NewOperationsClient wraps a client connection.
func NewOperationsClient(cc grpc.ClientConnInterface) *OperationsClient {
	return &OperationsClient{cc: cc}
}

// Call invokes method with in and returns the decoded response.
func (c *OperationsClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
