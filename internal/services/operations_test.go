package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-autoops/internal/engine"
	"github.com/miradorstack/mirador-autoops/internal/health"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

func newService(t *testing.T) (*OperationsService, *engine.Core, *utils.ManualClock) {
	t.Helper()
	clock := utils.NewManualClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	core, err := engine.NewCore(engine.DefaultOptions(), engine.Deps{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(core.Stop)
	return NewOperationsService(nil, core), core, clock
}

func payload(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func TestRecordAndDetect(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	for i := range 20 {
		clock.Advance(time.Minute)
		_, err := svc.RecordMetric(ctx, payload(t, map[string]any{"key": "rps", "value": float64(100 + i%2*4)}))
		require.NoError(t, err)
	}

	out, err := svc.DetectThreat(ctx, payload(t, map[string]any{"key": "rps", "value": 102}))
	require.NoError(t, err)
	assert.Equal(t, false, out.AsMap()["detected"])

	out, err = svc.DetectThreat(ctx, payload(t, map[string]any{"key": "rps", "value": 400}))
	require.NoError(t, err)
	fields := out.AsMap()
	require.Equal(t, true, fields["detected"])
	threat := fields["threat"].(map[string]any)
	threatID := threat["id"].(string)
	assert.Equal(t, string(models.CategoryTraffic), threat["category"])

	plan, err := svc.ExecuteResponsePlan(ctx, payload(t, map[string]any{"threatId": threatID}))
	require.NoError(t, err)
	assert.Equal(t, string(models.PlanCompleted), plan.AsMap()["status"])

	list, err := svc.ListThreats(ctx, payload(t, map[string]any{"minSeverity": "high"}))
	require.NoError(t, err)
	assert.Len(t, list.AsMap()["threats"], 1)

	resolved, err := svc.ResolveThreat(ctx, payload(t, map[string]any{"threatId": threatID, "note": "rate limited"}))
	require.NoError(t, err)
	assert.Equal(t, string(models.ThreatResolved), resolved.AsMap()["status"])

	_, err = svc.MarkFalsePositive(ctx, payload(t, map[string]any{"threatId": threatID}))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestInvalidRequests(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RecordMetric(ctx, payload(t, map[string]any{"value": 1}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.DetectThreat(ctx, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.PredictMetric(ctx, payload(t, map[string]any{"key": "disk", "horizon": "later"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.PredictMetric(ctx, payload(t, map[string]any{"key": "disk"}))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = svc.ResolveThreat(ctx, payload(t, map[string]any{"threatId": "missing"}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = svc.CreateResponsePlan(ctx, payload(t, map[string]any{
		"threatId": "missing",
		"actions":  []any{map[string]any{"target": "edge"}},
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.EnablePolicy(ctx, payload(t, map[string]any{"policyId": "absent"}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = svc.ScheduleMaintenanceTask(ctx, payload(t, map[string]any{"steps": []any{"vacuum"}}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealthCheckMethods(t *testing.T) {
	svc, core, _ := newService(t)
	ctx := context.Background()

	probe := health.ProbeFunc(func(context.Context) (models.ProbeResult, error) {
		return models.ProbeResult{Status: models.HealthHealthy, Metrics: map[string]float64{"latency_ms": 4}}, nil
	})
	require.NoError(t, core.RegisterHealthCheck("api", "API", models.KindService, probe, health.Options{Interval: time.Hour}))

	out, err := svc.RunHealthCheck(ctx, payload(t, map[string]any{"checkId": "api"}))
	require.NoError(t, err)
	assert.Equal(t, string(models.HealthHealthy), out.AsMap()["status"])

	list, err := svc.ListHealthChecks(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, list.AsMap()["checks"], 1)

	_, err = svc.RunHealthCheck(ctx, payload(t, map[string]any{"checkId": "db"}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestPolicyToggle(t *testing.T) {
	svc, core, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, core.AddPolicy(ctx, models.SelfHealingPolicy{
		ID:      "restart",
		Actions: []models.Action{{Kind: models.ActionRestart}},
		Enabled: true,
	}))

	out, err := svc.DisablePolicy(ctx, payload(t, map[string]any{"policyId": "restart"}))
	require.NoError(t, err)
	assert.Equal(t, false, out.AsMap()["enabled"])

	policies, err := core.Policies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.False(t, policies[0].Enabled)

	_, err = svc.EnablePolicy(ctx, payload(t, map[string]any{"policyId": "restart"}))
	require.NoError(t, err)
}

func TestMaintenanceMethods(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	out, err := svc.ScheduleMaintenanceTask(ctx, payload(t, map[string]any{
		"target": "db-primary",
		"steps":  []any{"vacuum", "reindex"},
	}))
	require.NoError(t, err)
	task := out.AsMap()
	assert.Equal(t, string(models.TaskPreventive), task["kind"])

	done, err := svc.ExecuteMaintenanceTask(ctx, payload(t, map[string]any{"taskId": task["id"]}))
	require.NoError(t, err)
	assert.Equal(t, string(models.TaskCompleted), done.AsMap()["status"])

	_, err = svc.ExecuteMaintenanceTask(ctx, payload(t, map[string]any{"taskId": task["id"]}))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}
