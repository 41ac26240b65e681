package response

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/metrics"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/remediation"
	"github.com/miradorstack/mirador-autoops/internal/store"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Executor owns response plans: at most one per threat, executed action by action.
type Executor struct {
	plans     store.Repository[models.ResponsePlan]
	runner    remediation.Runner
	publisher events.Publisher
	clock     utils.Clock
	locks     utils.KeyedMutex
	logger    *slog.Logger
}

// NewExecutor creates an executor persisting plans in plans.
func NewExecutor(plans store.Repository[models.ResponsePlan], runner remediation.Runner, publisher events.Publisher, clock utils.Clock, logger *slog.Logger) *Executor {
	return &Executor{
		plans:     plans,
		runner:    runner,
		publisher: events.PublisherOrDiscard(publisher),
		clock:     utils.ClockOrSystem(clock),
		logger:    utils.LoggerOrDefault(logger),
	}
}

// Create stores a plan for threatID. A plan that has not started yet has its actions
// replaced; a plan that already ran is returned unchanged. Empty actions keep the
// existing plan's steps.
func (e *Executor) Create(ctx context.Context, threatID string, actions []models.Action) (models.ResponsePlan, error) {
	unlock := e.locks.Lock(threatID)
	defer unlock()

	existing, err := e.plans.Get(ctx, threatID)
	switch {
	case err == nil:
		if existing.Status != models.PlanCreated || len(actions) == 0 {
			return existing, nil
		}
	case !isNotFound(err):
		return models.ResponsePlan{}, err
	}

	now := e.clock.Now()
	plan := models.ResponsePlan{
		ThreatID:  threatID,
		Actions:   models.PendingOutcomes(actions),
		Status:    models.PlanCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err == nil {
		plan.CreatedAt = existing.CreatedAt
	}
	if err := e.plans.Put(ctx, threatID, plan); err != nil {
		return models.ResponsePlan{}, err
	}
	return plan, nil
}

// Get returns the plan for threatID.
func (e *Executor) Get(ctx context.Context, threatID string) (models.ResponsePlan, error) {
	return e.plans.Get(ctx, threatID)
}

// Execute runs every action of the plan that has not completed yet, in order. A failed
// action is recorded and the rest still run. A completed plan is returned as is.
func (e *Executor) Execute(ctx context.Context, threatID string, attrs models.Attributes) (models.ResponsePlan, error) {
	unlock := e.locks.Lock(threatID)
	defer unlock()

	plan, err := e.plans.Get(ctx, threatID)
	if err != nil {
		return models.ResponsePlan{}, err
	}
	if plan.Status == models.PlanCompleted {
		return plan, nil
	}

	start := time.Now()
	plan = plan.Clone()
	plan.Status = models.PlanExecuting
	plan.UpdatedAt = e.clock.Now()
	if err := e.plans.Put(ctx, threatID, plan); err != nil {
		return models.ResponsePlan{}, err
	}

	for i := range plan.Actions {
		if plan.Actions[i].Status == models.ActionCompleted {
			continue
		}
		plan.Actions[i] = e.runner.RunOne(ctx, plan.Actions[i].Action, attrs)
		plan.UpdatedAt = e.clock.Now()
		if err := e.plans.Put(ctx, threatID, plan); err != nil {
			e.logger.Warn("persist plan progress", slog.String("threat_id", threatID), slog.Any("error", err))
		}
	}

	plan.Status = plan.Aggregate()
	plan.UpdatedAt = e.clock.Now()
	if err := e.plans.Put(ctx, threatID, plan); err != nil {
		return plan, err
	}

	elapsed := time.Since(start)
	outcome := metrics.OutcomeSuccess
	if plan.Status == models.PlanFailed {
		outcome = metrics.OutcomeError
	}
	metrics.ObservePlan(elapsed, outcome)

	e.publisher.Publish(events.ResponsePlanCompleted{Plan: plan.Clone(), At: plan.UpdatedAt})
	e.logger.Info("response plan executed",
		slog.String("threat_id", threatID),
		slog.String("status", string(plan.Status)),
		slog.Int("actions", len(plan.Actions)),
		slog.Duration("elapsed", elapsed),
	)
	return plan, nil
}

// Delete drops the plan for threatID, if any.
func (e *Executor) Delete(ctx context.Context, threatID string) error {
	unlock := e.locks.Lock(threatID)
	defer unlock()
	err := e.plans.Delete(ctx, threatID)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}
