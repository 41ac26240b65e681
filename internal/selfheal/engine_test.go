package selfheal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoops/internal/cache"
	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/remediation"
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
	engine  *Engine
	clock   *utils.ManualClock
	pub     *capturePublisher
	mu      sync.Mutex
	targets []string
}

func newFixture(t *testing.T, leases cache.Provider) *fixture {
	t.Helper()
	f := &fixture{clock: utils.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), pub: &capturePublisher{}}
	registry := remediation.NewRegistry(f.pub, f.clock, nil)
	registry.Register(models.ActionRestart, remediation.HandlerFunc(func(_ context.Context, req remediation.Request) (string, error) {
		f.mu.Lock()
		f.targets = append(f.targets, req.Action.Target)
		f.mu.Unlock()
		return "restarted", nil
	}))
	f.engine = NewEngine(store.NewMemory[models.SelfHealingPolicy]("policy"), registry, f.pub, leases, f.clock, nil)
	return f
}

func (f *fixture) fired() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

func policy(id string, priority int, cooldown time.Duration, trigger models.Predicate) models.SelfHealingPolicy {
	return models.SelfHealingPolicy{
		ID:       id,
		Name:     id,
		Trigger:  trigger,
		Actions:  []models.Action{{Kind: models.ActionRestart, Target: id}},
		Enabled:  true,
		Priority: priority,
		Cooldown: cooldown,
	}
}

var unhealthyDB = models.HealthCheck{ID: "orders-db", Name: "orders-db", Kind: models.KindDatabase, Status: models.HealthUnhealthy}

func TestPoliciesFireInPriorityOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dbTrigger := models.Predicate{{Field: "kind", Op: models.OpEq, Value: "database"}}

	require.NoError(t, f.engine.Add(ctx, policy("b-late", 10, 0, dbTrigger)))
	require.NoError(t, f.engine.Add(ctx, policy("a-first", 1, 0, dbTrigger)))
	require.NoError(t, f.engine.Add(ctx, policy("c-tie", 10, 0, nil)))
	require.NoError(t, f.engine.Add(ctx, policy("net-only", 0, 0, models.Predicate{{Field: "kind", Op: models.OpEq, Value: "network"}})))

	firings := f.engine.HandleEscalation(ctx, unhealthyDB)

	require.Len(t, firings, 3)
	assert.Equal(t, []string{"a-first", "b-late", "c-tie"}, f.fired())
	for _, firing := range firings {
		require.Len(t, firing.Outcomes, 1)
		assert.Equal(t, models.ActionCompleted, firing.Outcomes[0].Status)
	}
	assert.Equal(t, []events.Type{
		events.TypeSelfHealingStarted, events.TypeSelfHealingCompleted,
		events.TypeSelfHealingStarted, events.TypeSelfHealingCompleted,
		events.TypeSelfHealingStarted, events.TypeSelfHealingCompleted,
	}, f.pub.types())
}

func TestPolicyCooldownBoundary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.Add(ctx, policy("restart-db", 1, time.Minute, nil)))

	require.Len(t, f.engine.HandleEscalation(ctx, unhealthyDB), 1)

	f.clock.Advance(59 * time.Second)
	assert.Empty(t, f.engine.HandleEscalation(ctx, unhealthyDB))

	f.clock.Advance(time.Second)
	assert.Len(t, f.engine.HandleEscalation(ctx, unhealthyDB), 1)

	stored, err := f.engine.Get(ctx, "restart-db")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), stored.LastFiredAt)
}

func TestDisabledPolicyNeverFires(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.Add(ctx, policy("restart-db", 1, 0, nil)))
	require.NoError(t, f.engine.Disable(ctx, "restart-db"))

	assert.Empty(t, f.engine.HandleEscalation(ctx, unhealthyDB))

	require.NoError(t, f.engine.Enable(ctx, "restart-db"))
	assert.Len(t, f.engine.HandleEscalation(ctx, unhealthyDB), 1)
}

func TestSharedLeaseDedupesAcrossEngines(t *testing.T) {
	leases := cache.NewMemoryProvider(nil)
	a := newFixture(t, leases)
	b := newFixture(t, leases)
	ctx := context.Background()
	require.NoError(t, a.engine.Add(ctx, policy("restart-db", 1, time.Minute, nil)))
	require.NoError(t, b.engine.Add(ctx, policy("restart-db", 1, time.Minute, nil)))

	assert.Len(t, a.engine.HandleEscalation(ctx, unhealthyDB), 1)
	assert.Empty(t, b.engine.HandleEscalation(ctx, unhealthyDB))
}

func TestShortenedCooldownReleasesLease(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.leases = cache.NewMemoryProvider(f.clock)
	ctx := context.Background()
	require.NoError(t, f.engine.Add(ctx, policy("restart-db", 1, 10*time.Minute, nil)))
	require.Len(t, f.engine.HandleEscalation(ctx, unhealthyDB), 1)

	require.NoError(t, f.engine.Put(ctx, policy("restart-db", 1, time.Minute, nil)))
	f.clock.Advance(2 * time.Minute)
	assert.Len(t, f.engine.HandleEscalation(ctx, unhealthyDB), 1)
}

func TestReaddedPolicyFiresImmediately(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.leases = cache.NewMemoryProvider(f.clock)
	ctx := context.Background()
	require.NoError(t, f.engine.Add(ctx, policy("restart-db", 1, 10*time.Minute, nil)))
	require.Len(t, f.engine.HandleEscalation(ctx, unhealthyDB), 1)

	require.NoError(t, f.engine.Remove(ctx, "restart-db"))
	require.NoError(t, f.engine.Add(ctx, policy("restart-db", 1, 10*time.Minute, nil)))
	assert.Len(t, f.engine.HandleEscalation(ctx, unhealthyDB), 1)

	require.NoError(t, f.engine.Put(ctx, policy("restart-db", 1, 10*time.Minute, nil)))
	assert.Empty(t, f.engine.HandleEscalation(ctx, unhealthyDB), "unchanged policy keeps its cooldown")
}

func TestPolicyManagement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, f.engine.Add(ctx, models.SelfHealingPolicy{ID: "empty"}), utils.ErrInvalidArgument)
	require.NoError(t, f.engine.Add(ctx, policy("p1", 1, time.Minute, nil)))
	require.ErrorIs(t, f.engine.Add(ctx, policy("p1", 1, 0, nil)), utils.ErrAlreadyExists)
	require.ErrorIs(t, f.engine.Enable(ctx, "missing"), utils.ErrUnknownEntity)

	f.engine.HandleEscalation(ctx, unhealthyDB)
	fired := f.clock.Now()

	replacement := policy("p1", 5, time.Minute, nil)
	require.NoError(t, f.engine.Put(ctx, replacement))
	stored, err := f.engine.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Priority)
	assert.Equal(t, fired, stored.LastFiredAt)

	require.NoError(t, f.engine.Remove(ctx, "p1"))
	list, err := f.engine.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
