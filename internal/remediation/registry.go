package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/metrics"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Request is one action plus the attributes of the entity that triggered it.
type Request struct {
	Action  models.Action
	Context models.Attributes
}

// Handler carries out one kind of action. The returned string is recorded as output.
type Handler interface {
	Execute(ctx context.Context, req Request) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (string, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Runner executes action lists. Policies, rules, plans and tasks depend on this.
type Runner interface {
	Run(ctx context.Context, actions []models.Action, attrs models.Attributes) []models.ActionOutcome
	RunOne(ctx context.Context, action models.Action, attrs models.Attributes) models.ActionOutcome
}

// intentKinds are recorded and logged; external orchestrators act on the emitted outcome.
var intentKinds = []models.ActionKind{
	models.ActionScale,
	models.ActionRollback,
	models.ActionReconfigure,
	models.ActionCleanup,
	models.ActionCustom,
	models.ActionRestart,
	models.ActionBlockSource,
	models.ActionEnableFiltering,
	models.ActionRateLimit,
	models.ActionThrottle,
	models.ActionIsolate,
	models.ActionEnableMonitoring,
	models.ActionMaintenanceStep,
}

// Registry maps action kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.ActionKind]Handler
	clock    utils.Clock
	logger   *slog.Logger
}

// NewRegistry creates a registry with the built-in handlers installed.
func NewRegistry(publisher events.Publisher, clock utils.Clock, logger *slog.Logger) *Registry {
	r := &Registry{
		handlers: make(map[models.ActionKind]Handler),
		clock:    utils.ClockOrSystem(clock),
		logger:   utils.LoggerOrDefault(logger),
	}
	intent := IntentHandler(r.logger)
	for _, kind := range intentKinds {
		r.handlers[kind] = intent
	}
	r.handlers[models.ActionLog] = LogHandler(r.logger)
	r.handlers[models.ActionLogDetails] = LogHandler(r.logger)
	notify := NotifyHandler(events.PublisherOrDiscard(publisher), r.clock)
	r.handlers[models.ActionNotify] = notify
	r.handlers[models.ActionNotifyTeam] = notify
	return r
}

// Register installs or replaces the handler for kind.
func (r *Registry) Register(kind models.ActionKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Kinds lists every kind with a handler.
func (r *Registry) Kinds() []models.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]models.ActionKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}

func (r *Registry) handler(kind models.ActionKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Run executes actions in order. A failed action is recorded and the next one still runs.
func (r *Registry) Run(ctx context.Context, actions []models.Action, attrs models.Attributes) []models.ActionOutcome {
	outcomes := make([]models.ActionOutcome, 0, len(actions))
	for _, action := range actions {
		outcomes = append(outcomes, r.RunOne(ctx, action, attrs))
	}
	return outcomes
}

// RunOne executes a single action and records its outcome.
func (r *Registry) RunOne(ctx context.Context, action models.Action, attrs models.Attributes) models.ActionOutcome {
	outcome := models.ActionOutcome{Action: action, Status: models.ActionRunning, StartedAt: r.clock.Now()}

	output, err := r.execute(ctx, action, attrs)
	outcome.FinishedAt = r.clock.Now()
	outcome.Output = output
	if err != nil {
		outcome.Status = models.ActionFailed
		outcome.Error = err.Error()
		metrics.ObserveAction(string(action.Kind), metrics.OutcomeError)
		r.logger.Warn("remediation action failed",
			slog.String("kind", string(action.Kind)),
			slog.String("target", action.Target),
			slog.Any("error", err),
		)
		return outcome
	}
	outcome.Status = models.ActionCompleted
	metrics.ObserveAction(string(action.Kind), metrics.OutcomeSuccess)
	return outcome
}

func (r *Registry) execute(ctx context.Context, action models.Action, attrs models.Attributes) (output string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h, ok := r.handler(action.Kind)
	if !ok {
		return "", fmt.Errorf("no handler registered for action kind %q", action.Kind)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler for %q panicked: %v", action.Kind, rec)
		}
	}()
	return h.Execute(ctx, Request{Action: action, Context: attrs})
}
