package threat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoops/internal/baseline"
	"github.com/miradorstack/mirador-autoops/internal/detect"
	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/remediation"
	"github.com/miradorstack/mirador-autoops/internal/response"
	"github.com/miradorstack/mirador-autoops/internal/store"
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

func (c *capturePublisher) types() []events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Type, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type()
	}
	return out
}

type fixture struct {
	registry *Registry
	baseline *baseline.Store
	rules    *response.Rules
	executor *response.Executor
	pub      *capturePublisher
	clock    *utils.ManualClock
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	clock := utils.NewManualClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	pub := &capturePublisher{}
	base := baseline.NewStore(100)
	registry := remediation.NewRegistry(pub, clock, nil)
	executor := response.NewExecutor(store.NewMemory[models.ResponsePlan]("plan"), registry, pub, clock, nil)
	rules := response.NewRules(store.NewMemory[models.ResponseRule]("rule"), registry, pub, clock, response.RulesOptions{}, nil)
	intel, err := DefaultIntel()
	require.NoError(t, err)

	reg := NewRegistry(cfg, Deps{
		Threats:   store.NewMemory[models.Threat]("threat"),
		Baseline:  base,
		Evaluator: detect.NewEnsemble(base, detect.DefaultConfig(), clock, nil),
		Intel:     intel,
		Planner:   response.NewPlanner(nil),
		Executor:  executor,
		Rules:     rules,
		Publisher: pub,
		Clock:     clock,
	})
	return fixture{registry: reg, baseline: base, rules: rules, executor: executor, pub: pub, clock: clock}
}

func (f fixture) warm(t *testing.T, key string, values ...float64) {
	t.Helper()
	for _, v := range values {
		threat, err := f.registry.Detect(context.Background(), models.MetricSample{Key: key, Value: v})
		require.NoError(t, err)
		require.Nil(t, threat)
	}
}

func TestDetectNormalSampleCommitsToBaseline(t *testing.T) {
	f := newFixture(t, Config{})
	f.warm(t, "network_latency_ms", 10, 11, 9, 10, 10, 11, 9, 10)

	assert.Equal(t, 8, f.baseline.Len("network_latency_ms"))
	assert.Empty(t, f.pub.types())
}

func TestDetectCriticalNetworkAnomaly(t *testing.T) {
	f := newFixture(t, Config{})
	f.warm(t, "network_latency_ms", 10, 11, 9, 10, 10, 11, 9, 10)

	threat, err := f.registry.Detect(context.Background(), models.MetricSample{
		Key: "network_latency_ms", Value: 250, Tags: map[string]string{"source": "10.9.8.7"},
	})
	require.NoError(t, err)
	require.NotNil(t, threat)

	assert.Equal(t, models.CategoryNetwork, threat.Category)
	assert.Equal(t, models.SeverityCritical, threat.Severity)
	assert.Equal(t, "10.9.8.7", threat.Source)
	assert.Equal(t, models.ThreatMitigating, threat.Status)
	assert.NotEmpty(t, threat.MitigationLog)
	assert.Equal(t, 8, f.baseline.Len("network_latency_ms"), "anomalous samples stay out of the baseline")

	types := f.pub.types()
	assert.Contains(t, types, events.TypeThreatDetected)
	assert.Contains(t, types, events.TypeCriticalThreat)
	assert.Contains(t, types, events.TypeResponsePlanCompleted)

	plan, err := f.executor.Get(context.Background(), threat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionBlockSource, plan.Actions[0].Action.Kind)
	assert.Equal(t, models.PlanCompleted, plan.Status)
}

func TestDetectRunsReflexRules(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.rules.Put(ctx, models.ResponseRule{
		ID:      "page-on-network",
		Enabled: true,
		Trigger: models.Predicate{{Field: "category", Op: models.OpEq, Value: "network_anomaly"}},
		Actions: []models.Action{{Kind: models.ActionNotifyTeam}},
	}))
	f.warm(t, "network_latency_ms", 10, 11, 9, 10, 10, 11, 9, 10)

	_, err := f.registry.Detect(ctx, models.MetricSample{Key: "network_latency_ms", Value: 250})
	require.NoError(t, err)
	assert.Contains(t, f.pub.types(), events.TypeAutomatedResponseTriggered)
}

func TestDetectIntelHitWithoutAnomaly(t *testing.T) {
	f := newFixture(t, Config{IntelEnabled: true})
	threat, err := f.registry.Detect(context.Background(), models.MetricSample{
		Key: "http_requests", Value: 1, Tags: map[string]string{"query": "1 UNION SELECT secret"},
	})
	require.NoError(t, err)
	require.NotNil(t, threat)
	assert.Equal(t, models.CategoryIntrusion, threat.Category)
	assert.Equal(t, models.SeverityCritical, threat.Severity)
	assert.Equal(t, []string{"pattern:sql_injection"}, threat.Indicators)
}

func TestResolveIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{AutoRespond: models.SeverityCritical})
	f.warm(t, "cpu_usage", 40, 41, 39, 40, 40)
	threat, err := f.registry.Detect(context.Background(), models.MetricSample{Key: "cpu_usage", Value: 400})
	require.NoError(t, err)
	require.NotNil(t, threat)

	first, err := f.registry.Resolve(context.Background(), threat.ID, "capacity added")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.registry.Resolve(context.Background(), threat.ID, "again")
	require.NoError(t, err)

	assert.Equal(t, models.ThreatResolved, second.Status)
	assert.True(t, first.ResolvedAt.Equal(second.ResolvedAt))
	assert.Len(t, second.MitigationLog, len(first.MitigationLog))

	resolvedEvents := 0
	for _, typ := range f.pub.types() {
		if typ == events.TypeThreatResolved {
			resolvedEvents++
		}
	}
	assert.Equal(t, 1, resolvedEvents)

	_, err = f.registry.MarkFalsePositive(context.Background(), threat.ID, "")
	require.ErrorIs(t, err, utils.ErrInvalidTransition)
}

func TestUnknownThreatIsHardError(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.registry.Resolve(context.Background(), "missing", "")
	require.ErrorIs(t, err, utils.ErrUnknownEntity)
	_, err = f.registry.MarkFalsePositive(context.Background(), "missing", "")
	require.ErrorIs(t, err, utils.ErrUnknownEntity)
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := newFixture(t, Config{AutoRespond: models.SeverityCritical})
	f.warm(t, "disk_usage", 50, 51, 49, 50, 50)
	threat, err := f.registry.Detect(context.Background(), models.MetricSample{Key: "disk_usage", Value: 52})
	require.NoError(t, err)
	require.NotNil(t, threat)
	ctx := context.Background()

	updated, err := f.registry.UpdateStatus(ctx, threat.ID, models.ThreatInvestigating)
	require.NoError(t, err)
	assert.Equal(t, models.ThreatInvestigating, updated.Status)

	_, err = f.registry.UpdateStatus(ctx, threat.ID, models.ThreatMitigating)
	require.NoError(t, err)
	_, err = f.registry.UpdateStatus(ctx, threat.ID, models.ThreatInvestigating)
	require.NoError(t, err)
	_, err = f.registry.UpdateStatus(ctx, threat.ID, models.ThreatDetected)
	require.ErrorIs(t, err, utils.ErrInvalidTransition)

	withNote, err := f.registry.AddMitigationStep(ctx, threat.ID, "paged storage team")
	require.NoError(t, err)
	assert.Equal(t, "paged storage team", withNote.MitigationLog[len(withNote.MitigationLog)-1].Note)
}

func TestPurgeResolvedHonoursRetention(t *testing.T) {
	f := newFixture(t, Config{Retention: time.Hour, AutoRespond: models.SeverityCritical})
	f.warm(t, "cpu_usage", 40, 41, 39, 40, 40)
	ctx := context.Background()
	threat, err := f.registry.Detect(ctx, models.MetricSample{Key: "cpu_usage", Value: 400})
	require.NoError(t, err)
	require.NotNil(t, threat)
	_, err = f.registry.Resolve(ctx, threat.ID, "")
	require.NoError(t, err)

	purged, err := f.registry.PurgeResolved(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)

	f.clock.Advance(time.Hour)
	purged, err = f.registry.PurgeResolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = f.registry.Get(ctx, threat.ID)
	require.ErrorIs(t, err, utils.ErrUnknownEntity)
}

func TestListFiltersThreats(t *testing.T) {
	f := newFixture(t, Config{IntelEnabled: true, AutoRespond: models.SeverityCritical})
	ctx := context.Background()
	_, err := f.registry.Detect(ctx, models.MetricSample{Key: "web", Tags: map[string]string{"ua": "nikto"}})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.registry.Detect(ctx, models.MetricSample{Key: "web", Tags: map[string]string{"q": "DROP TABLE users"}})
	require.NoError(t, err)

	all, err := f.registry.List(ctx, models.ThreatFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].FirstSeenAt.After(all[1].FirstSeenAt))

	critical, err := f.registry.List(ctx, models.ThreatFilter{MinSeverity: models.SeverityCritical})
	require.NoError(t, err)
	assert.Len(t, critical, 1)
}
