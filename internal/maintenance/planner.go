package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/metrics"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/remediation"
	"github.com/miradorstack/mirador-autoops/internal/store"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

const (
	criticalLeadTime = 5 * time.Minute
	defaultLeadTime  = time.Hour
)

// Planner turns forecasts into predictive tasks and drives every task through its
// lifecycle.
type Planner struct {
	tasks     store.Repository[models.MaintenanceTask]
	predictor *Predictor
	runner    remediation.Runner
	publisher events.Publisher
	clock     utils.Clock
	locks     utils.KeyedMutex
	logger    *slog.Logger
}

// NewPlanner creates a maintenance planner.
func NewPlanner(tasks store.Repository[models.MaintenanceTask], predictor *Predictor, runner remediation.Runner, publisher events.Publisher, clock utils.Clock, logger *slog.Logger) *Planner {
	return &Planner{
		tasks:     tasks,
		predictor: predictor,
		runner:    runner,
		publisher: events.PublisherOrDiscard(publisher),
		clock:     utils.ClockOrSystem(clock),
		logger:    utils.LoggerOrDefault(logger),
	}
}

// PredictAndPlan forecasts key and, for high or critical urgency, schedules a
// predictive task unless one is already open for the key. task is nil when nothing
// was scheduled.
func (p *Planner) PredictAndPlan(ctx context.Context, key string, horizon time.Duration) (models.Forecast, *models.MaintenanceTask, error) {
	forecast, err := p.predictor.Predict(key, horizon)
	if err != nil {
		return models.Forecast{}, nil, err
	}
	metrics.ObserveForecast(string(forecast.Urgency))

	if forecast.Urgency == models.UrgencyLow {
		return forecast, nil, nil
	}
	p.publisher.Publish(events.PredictiveAlert{Forecast: forecast, At: forecast.GeneratedAt})
	p.logger.Info("predictive alert",
		slog.String("key", key),
		slog.String("urgency", string(forecast.Urgency)),
		slog.Float64("predicted", forecast.Predicted),
		slog.Float64("anomaly_probability", forecast.AnomalyProbability),
	)

	if forecast.Urgency != models.UrgencyHigh && forecast.Urgency != models.UrgencyCritical {
		return forecast, nil, nil
	}

	unlock := p.locks.Lock("forecast:" + key)
	defer unlock()

	open, err := p.openPredictiveTask(ctx, key)
	if err != nil {
		return forecast, nil, err
	}
	if open {
		p.logger.Debug("predictive task already open", slog.String("key", key))
		return forecast, nil, nil
	}

	lead, priority := defaultLeadTime, 2
	if forecast.Urgency == models.UrgencyCritical {
		lead, priority = criticalLeadTime, 1
	}
	task, err := p.Schedule(ctx, models.MaintenanceTask{
		Kind:        models.TaskPredictive,
		Target:      key,
		Description: forecast.Recommendation,
		Urgency:     forecast.Urgency,
		Priority:    priority,
		Steps:       Checklist(key, forecast.Urgency),
		ScheduledAt: forecast.GeneratedAt.Add(lead),
	})
	if err != nil {
		return forecast, nil, err
	}
	return forecast, &task, nil
}

// Checklist returns maintenance steps for key, longer for more urgent forecasts.
func Checklist(key string, urgency models.Urgency) []string {
	steps := []string{
		fmt.Sprintf("review %s trend and recent changes", key),
		fmt.Sprintf("verify capacity headroom for %s", key),
	}
	if urgency == models.UrgencyMedium || urgency == models.UrgencyHigh || urgency == models.UrgencyCritical {
		steps = append(steps, fmt.Sprintf("plan capacity adjustment for %s", key))
	}
	if urgency == models.UrgencyHigh || urgency == models.UrgencyCritical {
		steps = append(steps,
			fmt.Sprintf("apply capacity adjustment for %s", key),
			fmt.Sprintf("confirm %s returns to baseline", key),
		)
	}
	if urgency == models.UrgencyCritical {
		steps = append(steps,
			"notify on-call owner",
			fmt.Sprintf("prepare rollback for %s changes", key),
		)
	}
	return steps
}

func (p *Planner) openPredictiveTask(ctx context.Context, key string) (bool, error) {
	tasks, err := p.tasks.List(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.Kind == models.TaskPredictive && t.Target == key && t.Open() {
			return true, nil
		}
	}
	return false, nil
}

// Schedule stores a new task in scheduled state. Kind defaults to preventive and
// ScheduledAt to now.
func (p *Planner) Schedule(ctx context.Context, task models.MaintenanceTask) (models.MaintenanceTask, error) {
	if task.Target == "" {
		return models.MaintenanceTask{}, utils.NewAppError("maintenance.Schedule", "task target is required", utils.ErrInvalidArgument)
	}
	now := p.clock.Now()
	if task.ID == "" {
		task.ID = uuid.NewString()
	} else if _, err := p.tasks.Get(ctx, task.ID); err == nil {
		return models.MaintenanceTask{}, utils.NewAppError("maintenance.Schedule", fmt.Sprintf("task %q", task.ID), utils.ErrAlreadyExists)
	}
	if task.Kind == "" {
		task.Kind = models.TaskPreventive
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	task.Status = models.TaskScheduled
	task.CreatedAt = now
	task.StartedAt, task.FinishedAt = time.Time{}, time.Time{}
	task.Outcomes = nil

	if err := p.tasks.Put(ctx, task.ID, task.Clone()); err != nil {
		return models.MaintenanceTask{}, err
	}
	p.publisher.Publish(events.MaintenanceTaskScheduled{Task: task.Clone(), At: now})
	p.logger.Info("maintenance task scheduled",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.String("target", task.Target),
		slog.Time("scheduled_at", task.ScheduledAt),
	)
	return task, nil
}

// Execute runs a scheduled task's steps in order. The first failing step stops the
// task and cancels it; otherwise it completes.
func (p *Planner) Execute(ctx context.Context, id string) (models.MaintenanceTask, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	task, err := p.tasks.Get(ctx, id)
	if err != nil {
		return models.MaintenanceTask{}, err
	}
	if !task.Status.CanTransition(models.TaskInProgress) {
		return task, utils.NewAppError("maintenance.Execute",
			fmt.Sprintf("task %s is %s", id, task.Status), utils.ErrInvalidTransition)
	}
	task.Status = models.TaskInProgress
	task.StartedAt = p.clock.Now()
	if err := p.tasks.Put(ctx, id, task.Clone()); err != nil {
		return models.MaintenanceTask{}, err
	}

	attrs := models.Attributes{"task_id": task.ID, "kind": string(task.Kind), "target": task.Target}
	task.Outcomes = make([]models.ActionOutcome, 0, len(task.Steps))
	task.Status = models.TaskCompleted
	for i, step := range task.Steps {
		outcome := p.runner.RunOne(ctx, models.Action{
			Kind:   models.ActionMaintenanceStep,
			Target: task.Target,
			Params: map[string]string{"task_id": task.ID, "step": step},
		}, attrs)
		task.Outcomes = append(task.Outcomes, outcome)
		if outcome.Status == models.ActionFailed {
			task.Status = models.TaskCancelled
			task.Note = fmt.Sprintf("step %d %q failed: %s", i+1, step, outcome.Error)
			break
		}
	}
	task.FinishedAt = p.clock.Now()
	if err := p.tasks.Put(ctx, id, task.Clone()); err != nil {
		return models.MaintenanceTask{}, err
	}

	if task.Status == models.TaskCompleted {
		p.publisher.Publish(events.MaintenanceTaskCompleted{Task: task.Clone(), At: task.FinishedAt})
		p.logger.Info("maintenance task completed", slog.String("task_id", id), slog.Int("steps", len(task.Outcomes)))
	} else {
		p.logger.Warn("maintenance task cancelled", slog.String("task_id", id), slog.String("note", task.Note))
	}
	return task, nil
}

// Cancel moves an open task to cancelled.
func (p *Planner) Cancel(ctx context.Context, id, note string) (models.MaintenanceTask, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	task, err := p.tasks.Get(ctx, id)
	if err != nil {
		return models.MaintenanceTask{}, err
	}
	if !task.Status.CanTransition(models.TaskCancelled) {
		return task, utils.NewAppError("maintenance.Cancel",
			fmt.Sprintf("task %s is %s", id, task.Status), utils.ErrInvalidTransition)
	}
	task.Status = models.TaskCancelled
	task.FinishedAt = p.clock.Now()
	task.Note = note
	if err := p.tasks.Put(ctx, id, task.Clone()); err != nil {
		return models.MaintenanceTask{}, err
	}
	return task, nil
}

// Get returns one task.
func (p *Planner) Get(ctx context.Context, id string) (models.MaintenanceTask, error) {
	return p.tasks.Get(ctx, id)
}

// List returns tasks ordered by schedule time, then priority, then id.
func (p *Planner) List(ctx context.Context) ([]models.MaintenanceTask, error) {
	tasks, err := p.tasks.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
	return tasks, nil
}

// RunDue executes every scheduled task whose time has come and returns how many ran.
func (p *Planner) RunDue(ctx context.Context) (int, error) {
	tasks, err := p.List(ctx)
	if err != nil {
		return 0, err
	}
	now := p.clock.Now()
	ran := 0
	for _, task := range tasks {
		if task.Status != models.TaskScheduled || task.ScheduledAt.After(now) {
			continue
		}
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		if _, err := p.Execute(ctx, task.ID); err != nil {
			p.logger.Warn("run due task", slog.String("task_id", task.ID), slog.Any("error", err))
			continue
		}
		ran++
	}
	return ran, nil
}

// Dispatch runs due tasks every interval until ctx ends.
func (p *Planner) Dispatch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunDue(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("maintenance dispatch", slog.Any("error", err))
			}
		}
	}
}

// Watch forecasts keys every interval until ctx ends. Keys still warming up are skipped.
func (p *Planner) Watch(ctx context.Context, keys []string, horizon, interval time.Duration) {
	if len(keys) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range keys {
				if _, _, err := p.PredictAndPlan(ctx, key, horizon); err != nil && !isInsufficientData(err) {
					p.logger.Warn("forecast failed", slog.String("key", key), slog.Any("error", err))
				}
			}
		}
	}
}
