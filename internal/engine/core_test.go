package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/health"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/remediation"
	"github.com/miradorstack/mirador-autoops/internal/rules"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(e events.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *capturePublisher) count(t events.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type() == t {
			n++
		}
	}
	return n
}

type harness struct {
	core  *Core
	pub   *capturePublisher
	clock *utils.ManualClock
}

func newHarness(t *testing.T, mutate func(*Options)) harness {
	t.Helper()
	clock := utils.NewManualClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	pub := &capturePublisher{}
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	core, err := NewCore(opts, Deps{Publisher: pub, Clock: clock})
	require.NoError(t, err)
	t.Cleanup(core.Stop)
	return harness{core: core, pub: pub, clock: clock}
}

func (h harness) record(t *testing.T, key string, values ...float64) {
	t.Helper()
	for _, v := range values {
		h.clock.Advance(time.Minute)
		require.NoError(t, h.core.RecordMetric(models.MetricSample{Key: key, Value: v}))
	}
}

func unhealthy(context.Context) (models.ProbeResult, error) {
	return models.ProbeResult{Status: models.HealthUnhealthy, Message: "connection refused"}, nil
}

func TestUnhealthyCheckTriggersPolicy(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var restarts int32
	h.core.RegisterActionHandler(models.ActionRestart, remediation.HandlerFunc(func(_ context.Context, req remediation.Request) (string, error) {
		atomic.AddInt32(&restarts, 1)
		assert.Equal(t, "checkout", req.Context["check_id"])
		return "restarted", nil
	}))
	require.NoError(t, h.core.AddPolicy(ctx, models.SelfHealingPolicy{
		ID:       "restart-service",
		Trigger:  models.Predicate{{Field: "kind", Op: models.OpEq, Value: string(models.KindService)}},
		Actions:  []models.Action{{Kind: models.ActionRestart}},
		Enabled:  true,
		Cooldown: time.Minute,
	}))
	require.NoError(t, h.core.RegisterHealthCheck("checkout", "Checkout API", models.KindService,
		health.ProbeFunc(unhealthy), health.Options{Interval: time.Hour, Timeout: time.Second, FailureThreshold: 2}))

	check, err := h.core.RunOnce(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, models.HealthDegraded, check.Status)
	assert.Zero(t, atomic.LoadInt32(&restarts))

	check, err = h.core.RunOnce(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, models.HealthUnhealthy, check.Status)
	assert.EqualValues(t, 1, atomic.LoadInt32(&restarts))

	_, err = h.core.RunOnce(ctx, "checkout")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&restarts), "cooldown holds the policy back")

	h.clock.Advance(time.Minute)
	_, err = h.core.RunOnce(ctx, "checkout")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&restarts))

	assert.Equal(t, 2, h.pub.count(events.TypeSelfHealingStarted))
	assert.Equal(t, 2, h.pub.count(events.TypeSelfHealingCompleted))

	require.NoError(t, h.core.UnregisterHealthCheck("checkout"))
	assert.Empty(t, h.core.HealthChecks())
}

func TestDetectThreatRespondsAutomatically(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for range 10 {
		h.record(t, "cpu_usage", 49, 51)
	}

	normal, err := h.core.DetectThreat(ctx, models.MetricSample{Key: "cpu_usage", Value: 50})
	require.NoError(t, err)
	assert.Nil(t, normal)

	threat, err := h.core.DetectThreat(ctx, models.MetricSample{Key: "cpu_usage", Value: 95})
	require.NoError(t, err)
	require.NotNil(t, threat)
	assert.Equal(t, models.CategoryResource, threat.Category)
	assert.Equal(t, models.SeverityCritical, threat.Severity)
	assert.Equal(t, models.ThreatMitigating, threat.Status)
	assert.NotEmpty(t, threat.MitigationLog)

	plan, err := h.core.ResponsePlan(ctx, threat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanCompleted, plan.Status)
	assert.Equal(t, 1, h.pub.count(events.TypeCriticalThreat))
	assert.Equal(t, 1, h.pub.count(events.TypeResponsePlanCompleted))

	resolved, err := h.core.ResolveThreat(ctx, threat.ID, "scaled out")
	require.NoError(t, err)
	assert.Equal(t, models.ThreatResolved, resolved.Status)

	open, err := h.core.ListThreats(ctx, models.ThreatFilter{Status: models.ThreatDetected})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCustomResponsePlan(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Threats.AutoRespond = models.SeverityCritical })
	ctx := context.Background()
	for range 10 {
		h.record(t, "request_rate", 100, 104)
	}

	threat, err := h.core.DetectThreat(ctx, models.MetricSample{Key: "request_rate", Value: 112})
	require.NoError(t, err)
	require.NotNil(t, threat)
	require.NotEqual(t, models.SeverityCritical, threat.Severity)
	assert.Equal(t, models.ThreatDetected, threat.Status)

	actions := []models.Action{{Kind: models.ActionRateLimit, Target: "edge"}, {Kind: models.ActionLog}}
	plan, err := h.core.CreateResponsePlan(ctx, threat.ID, actions)
	require.NoError(t, err)
	assert.Equal(t, models.PlanCreated, plan.Status)
	require.Len(t, plan.Actions, 2)

	plan, err = h.core.ExecuteResponsePlan(ctx, threat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanCompleted, plan.Status)
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, models.ActionRateLimit, plan.Actions[0].Action.Kind)

	_, err = h.core.CreateResponsePlan(ctx, "missing", nil)
	require.ErrorIs(t, err, utils.ErrUnknownEntity)
}

func TestPredictMetricSchedulesMaintenance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, _, err := h.core.PredictMetric(ctx, "disk_usage", time.Hour)
	require.ErrorIs(t, err, utils.ErrInsufficientData)

	h.record(t, "disk_usage", 10, 10, 10, 10, 10, 10, 10, 10, 10, 30)
	forecast, task, err := h.core.PredictMetric(ctx, "disk_usage", 0)
	require.NoError(t, err)
	assert.Equal(t, models.UrgencyCritical, forecast.Urgency)
	require.NotNil(t, task)
	assert.Equal(t, models.TaskPredictive, task.Kind)

	done, err := h.core.ExecuteMaintenanceTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, done.Status)
	assert.Len(t, done.Outcomes, len(done.Steps))
}

func TestMaintenanceTaskLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	task, err := h.core.ScheduleMaintenanceTask(ctx, models.MaintenanceTask{
		Target: "db-primary",
		Steps:  []string{"vacuum", "reindex"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskPreventive, task.Kind)
	assert.Equal(t, models.TaskScheduled, task.Status)

	cancelled, err := h.core.CancelMaintenanceTask(ctx, task.ID, "window moved")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, cancelled.Status)

	_, err = h.core.ExecuteMaintenanceTask(ctx, task.ID)
	require.ErrorIs(t, err, utils.ErrInvalidTransition)

	tasks, err := h.core.MaintenanceTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestApplyRulePackAndToggle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	pack, err := rules.Load("../../configs/rules/default.yaml")
	require.NoError(t, err)
	require.NoError(t, h.core.ApplyRulePack(ctx, pack))

	policies, err := h.core.Policies(ctx)
	require.NoError(t, err)
	assert.Len(t, policies, len(pack.Policies))

	reflexes, err := h.core.ResponseRules(ctx)
	require.NoError(t, err)
	assert.Len(t, reflexes, len(pack.ResponseRules))

	id := pack.Policies[0].ID
	require.NoError(t, h.core.DisablePolicy(ctx, id))
	policies, err = h.core.Policies(ctx)
	require.NoError(t, err)
	for _, p := range policies {
		if p.ID == id {
			assert.False(t, p.Enabled)
		}
	}
	require.NoError(t, h.core.EnablePolicy(ctx, id))
	require.NoError(t, h.core.RemovePolicy(ctx, id))
	require.ErrorIs(t, h.core.EnablePolicy(ctx, id), utils.ErrUnknownEntity)
}

func TestJanitorPurgesResolvedThreats(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.JanitorInterval = 5 * time.Millisecond
		o.Threats.Retention = time.Hour
	})
	ctx := context.Background()
	for range 10 {
		h.record(t, "error_count", 2, 3)
	}
	threat, err := h.core.DetectThreat(ctx, models.MetricSample{Key: "error_count", Value: 60})
	require.NoError(t, err)
	require.NotNil(t, threat)
	_, err = h.core.ResolveThreat(ctx, threat.ID, "rolled back")
	require.NoError(t, err)

	h.core.Start(ctx)
	h.clock.Advance(2 * time.Hour)
	require.Eventually(t, func() bool {
		_, err := h.core.GetThreat(ctx, threat.ID)
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestRecordMetricRequiresKey(t *testing.T) {
	h := newHarness(t, nil)
	require.ErrorIs(t, h.core.RecordMetric(models.MetricSample{Value: 1}), utils.ErrInvalidArgument)
	_, err := h.core.MetricStats("absent")
	require.ErrorIs(t, err, utils.ErrUnknownEntity)

	h.record(t, "latency_ms", 10, 20)
	stats, err := h.core.MetricStats("latency_ms")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.InDelta(t, 15, stats.Mean, 1e-9)
}

func TestCoreRestartsAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	healthy := health.ProbeFunc(func(context.Context) (models.ProbeResult, error) {
		return models.ProbeResult{Status: models.HealthHealthy}, nil
	})

	h.core.Start(ctx)
	require.NoError(t, h.core.RegisterHealthCheck("api", "api", models.KindService, healthy, health.Options{Interval: time.Hour}))
	h.core.Stop()
	assert.Empty(t, h.core.HealthChecks())

	h.core.Start(ctx)
	require.NoError(t, h.core.RegisterHealthCheck("api", "api", models.KindService, healthy, health.Options{Interval: time.Hour}))
	check, err := h.core.RunOnce(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, check.Status)
}
