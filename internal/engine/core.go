package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-autoops/internal/baseline"
	"github.com/miradorstack/mirador-autoops/internal/cache"
	"github.com/miradorstack/mirador-autoops/internal/detect"
	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/health"
	"github.com/miradorstack/mirador-autoops/internal/maintenance"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/remediation"
	"github.com/miradorstack/mirador-autoops/internal/response"
	"github.com/miradorstack/mirador-autoops/internal/rules"
	"github.com/miradorstack/mirador-autoops/internal/selfheal"
	"github.com/miradorstack/mirador-autoops/internal/store"
	"github.com/miradorstack/mirador-autoops/internal/threat"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Options tune the components a Core wires together.
type Options struct {
	BaselineCapacity int
	Detection        detect.Config
	Threats          threat.Config
	Playbooks        response.Playbooks

	// ReflexPerSecond and ReflexBurst bound how often reflex rules may fire overall.
	ReflexPerSecond float64
	ReflexBurst     int

	// WatchKeys are forecast every ForecastInterval over Horizon.
	WatchKeys        []string
	Horizon          time.Duration
	ForecastInterval time.Duration
	DispatchInterval time.Duration
	JanitorInterval  time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		BaselineCapacity: baseline.DefaultCapacity,
		Detection:        detect.DefaultConfig(),
		Threats: threat.Config{
			IntelEnabled: true,
			AutoRespond:  models.SeverityHigh,
			Retention:    24 * time.Hour,
		},
		ReflexPerSecond:  10,
		ReflexBurst:      20,
		Horizon:          time.Hour,
		ForecastInterval: 5 * time.Minute,
		DispatchInterval: 30 * time.Second,
		JanitorInterval:  10 * time.Minute,
	}
}

// Deps are injected collaborators. Zero values fall back to in-process implementations.
type Deps struct {
	Repositories store.Repositories
	Leases       cache.Provider
	Publisher    events.Publisher
	Remediation  *remediation.Registry
	Intel        *threat.Intel
	Clock        utils.Clock
	Logger       *slog.Logger
}

// Core orchestrates detection, response, health checking, self-healing and maintenance.
type Core struct {
	opts   Options
	logger *slog.Logger
	clock  utils.Clock

	baseline    *baseline.Store
	ensemble    *detect.Ensemble
	remediation *remediation.Registry
	planner     *response.Planner
	executor    *response.Executor
	rules       *response.Rules
	threats     *threat.Registry
	health      *health.Scheduler
	selfheal    *selfheal.Engine
	predictor   *maintenance.Predictor
	maintenance *maintenance.Planner

	mu      sync.Mutex
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewCore wires every component over the shared baseline, repositories and event stream.
func NewCore(opts Options, deps Deps) (*Core, error) {
	logger := utils.LoggerOrDefault(deps.Logger)
	clock := utils.ClockOrSystem(deps.Clock)
	publisher := events.PublisherOrDiscard(deps.Publisher)

	repos := withMemoryDefaults(deps.Repositories)
	leases := deps.Leases
	if leases == nil {
		leases = cache.NewMemoryProvider(clock)
	}
	registry := deps.Remediation
	if registry == nil {
		registry = remediation.NewRegistry(publisher, clock, logger)
	}
	intel := deps.Intel
	if intel == nil {
		loaded, err := threat.DefaultIntel()
		if err != nil {
			return nil, fmt.Errorf("load threat intel: %w", err)
		}
		intel = loaded
	}

	c := &Core{
		opts:        opts,
		logger:      logger,
		clock:       clock,
		baseline:    baseline.NewStore(opts.BaselineCapacity),
		remediation: registry,
		planner:     response.NewPlanner(opts.Playbooks),
	}
	c.ensemble = detect.NewEnsemble(c.baseline, opts.Detection, clock, logger)
	c.executor = response.NewExecutor(repos.Plans, registry, publisher, clock, logger)
	c.rules = response.NewRules(repos.Rules, registry, publisher, clock, response.RulesOptions{
		Leases:           leases,
		FiringsPerSecond: opts.ReflexPerSecond,
		Burst:            opts.ReflexBurst,
	}, logger)
	c.threats = threat.NewRegistry(opts.Threats, threat.Deps{
		Threats:   repos.Threats,
		Baseline:  c.baseline,
		Evaluator: c.ensemble,
		Intel:     intel,
		Planner:   c.planner,
		Executor:  c.executor,
		Rules:     c.rules,
		Publisher: publisher,
		Clock:     clock,
		Logger:    logger,
	})
	c.selfheal = selfheal.NewEngine(repos.Policies, registry, publisher, leases, clock, logger)
	c.health = health.NewScheduler(c.escalate, publisher, clock, logger)
	c.predictor = maintenance.NewPredictor(c.baseline, clock)
	c.maintenance = maintenance.NewPlanner(repos.Tasks, c.predictor, registry, publisher, clock, logger)
	return c, nil
}

func withMemoryDefaults(repos store.Repositories) store.Repositories {
	defaults := store.NewMemoryRepositories()
	if repos.Policies == nil {
		repos.Policies = defaults.Policies
	}
	if repos.Rules == nil {
		repos.Rules = defaults.Rules
	}
	if repos.Threats == nil {
		repos.Threats = defaults.Threats
	}
	if repos.Plans == nil {
		repos.Plans = defaults.Plans
	}
	if repos.Tasks == nil {
		repos.Tasks = defaults.Tasks
	}
	return repos
}

func (c *Core) escalate(ctx context.Context, check models.HealthCheck) {
	firings := c.selfheal.HandleEscalation(ctx, check)
	if len(firings) == 0 {
		c.logger.Warn("no self-healing policy matched",
			slog.String("check_id", check.ID),
			slog.Int("consecutive_failures", check.ConsecutiveFailures),
		)
	}
}

// Start launches the maintenance dispatcher, the forecast watcher and the threat janitor.
// Health-check loops run from registration and are not tied to Start. A Core may be
// started again after Stop; checks dropped by Stop must be registered again.
func (c *Core) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	c.health.Start()
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.spawn(func() { c.maintenance.Dispatch(ctx, c.interval(c.opts.DispatchInterval, 30*time.Second)) })
	c.spawn(func() {
		c.maintenance.Watch(ctx, c.opts.WatchKeys, c.interval(c.opts.Horizon, time.Hour), c.interval(c.opts.ForecastInterval, 5*time.Minute))
	})
	c.spawn(func() { c.janitor(ctx, c.interval(c.opts.JanitorInterval, 10*time.Minute)) })
	c.logger.Info("autoops core started",
		slog.Int("watch_keys", len(c.opts.WatchKeys)),
		slog.Int("health_checks", len(c.health.List())),
	)
}

// Stop cancels background work and unregisters every health check, then waits for the
// loops to exit.
func (c *Core) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.health.Stop()
	c.workers.Wait()
}

func (c *Core) spawn(fn func()) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		fn()
	}()
}

func (c *Core) interval(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func (c *Core) janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := c.threats.PurgeResolved(ctx)
			if err != nil && ctx.Err() == nil {
				c.logger.Error("purge resolved threats", slog.Any("error", err))
				continue
			}
			if purged > 0 {
				c.logger.Info("purged resolved threats", slog.Int("count", purged))
			}
		}
	}
}

// RegisterActionHandler installs or replaces the handler for an action kind.
func (c *Core) RegisterActionHandler(kind models.ActionKind, h remediation.Handler) {
	c.remediation.Register(kind, h)
}

// ApplyRulePack upserts the pack's policies and reflex rules.
func (c *Core) ApplyRulePack(ctx context.Context, pack *rules.Pack) error {
	return rules.Apply(ctx, pack, c.selfheal, c.rules, c.logger)
}

// Health checks

// RegisterHealthCheck starts a probe loop for id.
func (c *Core) RegisterHealthCheck(id, name string, kind models.ResourceKind, probe health.Probe, opts health.Options) error {
	return c.health.Register(id, name, kind, probe, opts)
}

// UnregisterHealthCheck stops the loop for id and discards any in-flight result.
func (c *Core) UnregisterHealthCheck(id string) error {
	return c.health.Unregister(id)
}

// RunOnce probes id immediately, applying the same debounce and escalation as the loop.
func (c *Core) RunOnce(ctx context.Context, id string) (models.HealthCheck, error) {
	return c.health.RunOnce(ctx, id)
}

// HealthCheck returns the current state of one check.
func (c *Core) HealthCheck(id string) (models.HealthCheck, error) {
	return c.health.Get(id)
}

// HealthChecks lists every registered check.
func (c *Core) HealthChecks() []models.HealthCheck {
	return c.health.List()
}

// Metrics and forecasting

// RecordMetric appends a sample to its key's baseline without evaluating it.
func (c *Core) RecordMetric(sample models.MetricSample) error {
	if sample.Key == "" {
		return utils.NewAppError("engine.RecordMetric", "sample key is required", utils.ErrInvalidArgument)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = c.clock.Now()
	}
	c.baseline.Record(sample)
	return nil
}

// MetricStats returns the baseline statistics for key.
func (c *Core) MetricStats(key string) (baseline.Stats, error) {
	stats, ok := c.baseline.Stats(key)
	if !ok {
		return baseline.Stats{}, utils.NotFound("engine.MetricStats", "metric", key)
	}
	return stats, nil
}

// EvaluateMetric scores current against key's baseline without recording it.
func (c *Core) EvaluateMetric(ctx context.Context, key string, current float64) (models.AnomalyVerdict, error) {
	return c.ensemble.Evaluate(ctx, key, map[string]float64{"value": current})
}

// PredictMetric forecasts key over horizon and schedules predictive maintenance when urgent.
func (c *Core) PredictMetric(ctx context.Context, key string, horizon time.Duration) (models.Forecast, *models.MaintenanceTask, error) {
	if horizon <= 0 {
		horizon = c.interval(c.opts.Horizon, time.Hour)
	}
	return c.maintenance.PredictAndPlan(ctx, key, horizon)
}

// Threats

// DetectThreat evaluates sample and returns the threat it raised, or nil for a normal sample.
func (c *Core) DetectThreat(ctx context.Context, sample models.MetricSample) (*models.Threat, error) {
	return c.threats.Detect(ctx, sample)
}

// MatchIntelligence reports whether sample hits the threat-intelligence pack.
func (c *Core) MatchIntelligence(sample models.MetricSample) bool {
	return c.threats.MatchIntelligence(sample)
}

// GetThreat returns one threat.
func (c *Core) GetThreat(ctx context.Context, id string) (models.Threat, error) {
	return c.threats.Get(ctx, id)
}

// ListThreats returns threats passing filter.
func (c *Core) ListThreats(ctx context.Context, filter models.ThreatFilter) ([]models.Threat, error) {
	return c.threats.List(ctx, filter)
}

// UpdateThreatStatus moves a threat along its lifecycle.
func (c *Core) UpdateThreatStatus(ctx context.Context, id string, status models.ThreatStatus) (models.Threat, error) {
	return c.threats.UpdateStatus(ctx, id, status)
}

// AddMitigationStep appends a note to the threat's mitigation log.
func (c *Core) AddMitigationStep(ctx context.Context, id, note string) (models.Threat, error) {
	return c.threats.AddMitigationStep(ctx, id, note)
}

// ResolveThreat closes a threat.
func (c *Core) ResolveThreat(ctx context.Context, id, note string) (models.Threat, error) {
	return c.threats.Resolve(ctx, id, note)
}

// MarkFalsePositive closes a threat as a false positive.
func (c *Core) MarkFalsePositive(ctx context.Context, id, note string) (models.Threat, error) {
	return c.threats.MarkFalsePositive(ctx, id, note)
}

// PurgeResolvedThreats drops resolved threats older than the retention window.
func (c *Core) PurgeResolvedThreats(ctx context.Context) (int, error) {
	return c.threats.PurgeResolved(ctx)
}

// Response plans

// CreateResponsePlan creates the plan for a threat. Empty actions use the playbook for
// the threat's category.
func (c *Core) CreateResponsePlan(ctx context.Context, threatID string, actions []models.Action) (models.ResponsePlan, error) {
	t, err := c.threats.Get(ctx, threatID)
	if err != nil {
		return models.ResponsePlan{}, err
	}
	if len(actions) == 0 {
		actions = c.planner.Actions(t)
	}
	return c.executor.Create(ctx, threatID, actions)
}

// ExecuteResponsePlan runs the threat's plan, creating one from the playbook if needed.
func (c *Core) ExecuteResponsePlan(ctx context.Context, threatID string) (models.ResponsePlan, error) {
	return c.threats.Respond(ctx, threatID, nil)
}

// ResponsePlan returns the plan for a threat.
func (c *Core) ResponsePlan(ctx context.Context, threatID string) (models.ResponsePlan, error) {
	return c.executor.Get(ctx, threatID)
}

// Self-healing policies

// AddPolicy registers a new policy.
func (c *Core) AddPolicy(ctx context.Context, policy models.SelfHealingPolicy) error {
	return c.selfheal.Add(ctx, policy)
}

// PutPolicy inserts or replaces a policy.
func (c *Core) PutPolicy(ctx context.Context, policy models.SelfHealingPolicy) error {
	return c.selfheal.Put(ctx, policy)
}

// RemovePolicy deletes a policy.
func (c *Core) RemovePolicy(ctx context.Context, id string) error {
	return c.selfheal.Remove(ctx, id)
}

// EnablePolicy turns a policy on.
func (c *Core) EnablePolicy(ctx context.Context, id string) error {
	return c.selfheal.Enable(ctx, id)
}

// DisablePolicy turns a policy off.
func (c *Core) DisablePolicy(ctx context.Context, id string) error {
	return c.selfheal.Disable(ctx, id)
}

// Policies lists policies in firing order.
func (c *Core) Policies(ctx context.Context) ([]models.SelfHealingPolicy, error) {
	return c.selfheal.List(ctx)
}

// Reflex rules

// PutResponseRule inserts or replaces a reflex rule.
func (c *Core) PutResponseRule(ctx context.Context, rule models.ResponseRule) error {
	return c.rules.Put(ctx, rule)
}

// RemoveResponseRule deletes a reflex rule.
func (c *Core) RemoveResponseRule(ctx context.Context, id string) error {
	return c.rules.Remove(ctx, id)
}

// SetResponseRuleEnabled toggles a reflex rule.
func (c *Core) SetResponseRuleEnabled(ctx context.Context, id string, enabled bool) error {
	return c.rules.SetEnabled(ctx, id, enabled)
}

// ResponseRules lists reflex rules.
func (c *Core) ResponseRules(ctx context.Context) ([]models.ResponseRule, error) {
	return c.rules.List(ctx)
}

// Maintenance

// ScheduleMaintenanceTask records a task; zero fields get defaults.
func (c *Core) ScheduleMaintenanceTask(ctx context.Context, task models.MaintenanceTask) (models.MaintenanceTask, error) {
	return c.maintenance.Schedule(ctx, task)
}

// ExecuteMaintenanceTask runs a task's steps now.
func (c *Core) ExecuteMaintenanceTask(ctx context.Context, id string) (models.MaintenanceTask, error) {
	return c.maintenance.Execute(ctx, id)
}

// CancelMaintenanceTask cancels an open task.
func (c *Core) CancelMaintenanceTask(ctx context.Context, id, note string) (models.MaintenanceTask, error) {
	return c.maintenance.Cancel(ctx, id, note)
}

// MaintenanceTask returns one task.
func (c *Core) MaintenanceTask(ctx context.Context, id string) (models.MaintenanceTask, error) {
	return c.maintenance.Get(ctx, id)
}

// MaintenanceTasks lists tasks by schedule.
func (c *Core) MaintenanceTasks(ctx context.Context) ([]models.MaintenanceTask, error) {
	return c.maintenance.List(ctx)
}
