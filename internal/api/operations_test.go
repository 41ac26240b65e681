package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

// echoServer implements RecordMetric and EnablePolicy; other methods are never called.
type echoServer struct {
	OperationsServer
	seen []string
}

func (e *echoServer) RecordMetric(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req MetricRequest
	if err := Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	e.seen = append(e.seen, req.Key)
	return Encode(map[string]any{"recorded": true, "key": req.Key})
}

func (e *echoServer) EnablePolicy(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.NotFound, "policy missing")
}

func dialEcho(t *testing.T, srv OperationsServer, opts ...grpc.ServerOption) *OperationsClient {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	server := grpc.NewServer(opts...)
	RegisterOperationsServer(server, srv)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewOperationsClient(conn)
}

func TestOperationsRoundTrip(t *testing.T) {
	srv := &echoServer{}
	client := dialEcho(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in, err := Encode(MetricRequest{Key: "cpu_usage", Value: 42})
	require.NoError(t, err)
	out, err := client.Call(ctx, MethodRecordMetric, in)
	require.NoError(t, err)
	assert.Equal(t, true, out.AsMap()["recorded"])
	assert.Equal(t, []string{"cpu_usage"}, srv.seen)

	_, err = client.Call(ctx, MethodEnablePolicy, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Call(ctx, "NoSuchMethod", nil)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestOperationsInterceptorSeesFullMethod(t *testing.T) {
	var methods []string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		methods = append(methods, info.FullMethod)
		return handler(ctx, req)
	}
	client := dialEcho(t, &echoServer{}, grpc.UnaryInterceptor(interceptor))

	in, err := Encode(MetricRequest{Key: "rps"})
	require.NoError(t, err)
	_, err = client.Call(context.Background(), MethodRecordMetric, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"/autoops.v1.Operations/RecordMetric"}, methods)
}

func TestServiceDescCoversEveryMethod(t *testing.T) {
	names := make(map[string]bool)
	for _, m := range OperationsServiceDesc.Methods {
		names[m.MethodName] = true
	}
	for _, method := range []string{
		MethodRecordMetric, MethodPredictMetric, MethodDetectThreat, MethodResolveThreat,
		MethodMarkFalsePositive, MethodListThreats, MethodCreateResponsePlan, MethodExecuteResponsePlan,
		MethodRunHealthCheck, MethodListHealthChecks, MethodEnablePolicy, MethodDisablePolicy,
		MethodScheduleMaintenanceTask, MethodExecuteMaintenanceTask,
	} {
		assert.True(t, names[method], method)
	}
	assert.Len(t, OperationsServiceDesc.Methods, len(names))
}

func TestDecodeAndConvert(t *testing.T) {
	in, err := structpb.NewStruct(map[string]any{
		"key":       "latency_ms",
		"value":     12.5,
		"timestamp": "2026-05-04T09:00:00+02:00",
		"tags":      map[string]any{"service": "checkout"},
	})
	require.NoError(t, err)

	var req MetricRequest
	require.NoError(t, Decode(in, &req))
	sample, err := ToSample(req)
	require.NoError(t, err)
	assert.Equal(t, "latency_ms", sample.Key)
	assert.Equal(t, 12.5, sample.Value)
	assert.Equal(t, time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC), sample.Timestamp)
	assert.Equal(t, "checkout", sample.Tags["service"])

	_, err = ToSample(MetricRequest{Value: 1})
	assert.Error(t, err)
	_, err = ToSample(MetricRequest{Key: "k", Timestamp: "yesterday"})
	assert.Error(t, err)

	var plan PlanRequest
	in, err = structpb.NewStruct(map[string]any{
		"threatId": "t-1",
		"actions":  []any{map[string]any{"kind": "rate_limit", "target": "edge"}},
	})
	require.NoError(t, err)
	require.NoError(t, Decode(in, &plan))
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, models.ActionRateLimit, plan.Actions[0].Kind)

	assert.Error(t, Decode(nil, &plan))
}

func TestToHorizonAndFilter(t *testing.T) {
	d, err := ToHorizon("")
	require.NoError(t, err)
	assert.Zero(t, d)
	d, err = ToHorizon("90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)
	_, err = ToHorizon("-1h")
	assert.Error(t, err)
	_, err = ToHorizon("soon")
	assert.Error(t, err)

	filter, err := ToThreatFilter(ListThreatsRequest{Status: "detected", MinSeverity: "high"})
	require.NoError(t, err)
	assert.Equal(t, models.ThreatDetected, filter.Status)
	assert.Equal(t, models.SeverityHigh, filter.MinSeverity)
	_, err = ToThreatFilter(ListThreatsRequest{MinSeverity: "urgent"})
	assert.Error(t, err)
}

func TestToTask(t *testing.T) {
	task, err := ToTask(TaskRequest{Target: "db", Steps: []string{"vacuum"}, ScheduledAt: "2026-05-04T10:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "db", task.Target)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), task.ScheduledAt)

	_, err = ToTask(TaskRequest{Target: "db", Kind: "someday"})
	assert.Error(t, err)
}

func TestEncodeRejectsNonObjects(t *testing.T) {
	_, err := Encode([]string{"a"})
	assert.Error(t, err)

	out, err := Encode(models.HealthCheck{ID: "api", Status: models.HealthHealthy, Interval: time.Second})
	require.NoError(t, err)
	fields := out.AsMap()
	assert.Equal(t, "api", fields["id"])
	assert.Equal(t, float64(time.Second), fields["interval"])
}
