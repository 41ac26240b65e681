// Package selfheal maps escalated health checks onto remediation policies.
package selfheal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/miradorstack/mirador-autoops/internal/cache"
	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/metrics"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/remediation"
	"github.com/miradorstack/mirador-autoops/internal/store"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Firing records one policy executing for an escalated check.
type Firing struct {
	PolicyID string
	Outcomes []models.ActionOutcome
}

// Engine owns the self-healing policies.
type Engine struct {
	policies  store.Repository[models.SelfHealingPolicy]
	runner    remediation.Runner
	publisher events.Publisher
	leases    cache.Provider
	clock     utils.Clock
	locks     utils.KeyedMutex
	logger    *slog.Logger
}

// NewEngine creates a policy engine. leases may be nil for a single replica.
func NewEngine(policies store.Repository[models.SelfHealingPolicy], runner remediation.Runner, publisher events.Publisher, leases cache.Provider, clock utils.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		policies:  policies,
		runner:    runner,
		publisher: events.PublisherOrDiscard(publisher),
		leases:    leases,
		clock:     utils.ClockOrSystem(clock),
		logger:    utils.LoggerOrDefault(logger),
	}
}

// Add stores a new policy. An existing id is rejected.
func (e *Engine) Add(ctx context.Context, policy models.SelfHealingPolicy) error {
	if err := checkPolicy("selfheal.Add", policy); err != nil {
		return err
	}
	unlock := e.locks.Lock(policy.ID)
	defer unlock()
	if _, err := e.policies.Get(ctx, policy.ID); err == nil {
		return utils.NewAppError("selfheal.Add", fmt.Sprintf("policy %q", policy.ID), utils.ErrAlreadyExists)
	}
	e.releaseLease(ctx, policy.ID)
	return e.policies.Put(ctx, policy.ID, policy.Clone())
}

// Put adds or replaces a policy, preserving the firing history of an existing one. A
// new policy or a changed cooldown drops the outstanding firing lease.
func (e *Engine) Put(ctx context.Context, policy models.SelfHealingPolicy) error {
	if err := checkPolicy("selfheal.Put", policy); err != nil {
		return err
	}
	unlock := e.locks.Lock(policy.ID)
	defer unlock()
	existing, err := e.policies.Get(ctx, policy.ID)
	if err == nil && policy.LastFiredAt.IsZero() {
		policy.LastFiredAt = existing.LastFiredAt
	}
	if err != nil || existing.Cooldown != policy.Cooldown {
		e.releaseLease(ctx, policy.ID)
	}
	return e.policies.Put(ctx, policy.ID, policy.Clone())
}

// Remove deletes a policy and its firing lease.
func (e *Engine) Remove(ctx context.Context, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()
	if err := e.policies.Delete(ctx, id); err != nil {
		return err
	}
	e.releaseLease(ctx, id)
	return nil
}

func (e *Engine) releaseLease(ctx context.Context, id string) {
	if err := cache.ReleaseLease(ctx, e.leases, "policy:"+id); err != nil {
		e.logger.Warn("release policy lease", slog.String("policy_id", id), slog.Any("error", err))
	}
}

// Enable turns a policy on.
func (e *Engine) Enable(ctx context.Context, id string) error { return e.setEnabled(ctx, id, true) }

// Disable turns a policy off. A disabled policy never fires.
func (e *Engine) Disable(ctx context.Context, id string) error { return e.setEnabled(ctx, id, false) }

func (e *Engine) setEnabled(ctx context.Context, id string, enabled bool) error {
	unlock := e.locks.Lock(id)
	defer unlock()
	policy, err := e.policies.Get(ctx, id)
	if err != nil {
		return err
	}
	policy.Enabled = enabled
	return e.policies.Put(ctx, id, policy)
}

// Get returns one policy.
func (e *Engine) Get(ctx context.Context, id string) (models.SelfHealingPolicy, error) {
	return e.policies.Get(ctx, id)
}

// List returns every policy in firing order: ascending priority, then id.
func (e *Engine) List(ctx context.Context) ([]models.SelfHealingPolicy, error) {
	policies, err := e.policies.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority < policies[j].Priority
		}
		return policies[i].ID < policies[j].ID
	})
	return policies, nil
}

// HandleEscalation fires every enabled policy matching the check that is outside its
// cooldown. It has the health.EscalationFunc shape once the firings are dropped.
func (e *Engine) HandleEscalation(ctx context.Context, check models.HealthCheck) []Firing {
	policies, err := e.List(ctx)
	if err != nil {
		e.logger.Error("list self-healing policies", slog.Any("error", err))
		return nil
	}

	attrs := check.Attributes()
	firings := make([]Firing, 0)
	for _, candidate := range policies {
		if !candidate.Enabled || !candidate.Trigger.Matches(attrs) {
			continue
		}
		policy, ok := e.claim(ctx, candidate.ID, attrs)
		if !ok {
			continue
		}

		e.publisher.Publish(events.SelfHealingStarted{PolicyID: policy.ID, Check: check.Clone(), At: e.clock.Now()})
		e.logger.Info("self-healing policy firing",
			slog.String("policy_id", policy.ID),
			slog.String("check_id", check.ID),
			slog.Int("actions", len(policy.Actions)),
		)

		outcomes := e.runner.Run(ctx, policy.Actions, attrs)
		metrics.ObserveFiring("policy", policy.ID)
		e.publisher.Publish(events.SelfHealingCompleted{
			PolicyID: policy.ID,
			Check:    check.Clone(),
			Outcomes: outcomes,
			At:       e.clock.Now(),
		})
		firings = append(firings, Firing{PolicyID: policy.ID, Outcomes: outcomes})
	}
	return firings
}

// claim re-reads the policy under its lock and records the firing when allowed.
func (e *Engine) claim(ctx context.Context, id string, attrs models.Attributes) (models.SelfHealingPolicy, bool) {
	unlock := e.locks.Lock(id)
	defer unlock()

	policy, err := e.policies.Get(ctx, id)
	if err != nil || !policy.Enabled || !policy.Trigger.Matches(attrs) {
		return models.SelfHealingPolicy{}, false
	}
	now := e.clock.Now()
	if utils.CooldownActive(policy.LastFiredAt, policy.Cooldown, now) {
		e.logger.Debug("self-healing policy in cooldown", slog.String("policy_id", id))
		return models.SelfHealingPolicy{}, false
	}
	if !cache.AcquireLease(ctx, e.leases, "policy:"+id, policy.Cooldown) {
		e.logger.Debug("self-healing policy claimed by another replica", slog.String("policy_id", id))
		return models.SelfHealingPolicy{}, false
	}
	policy.LastFiredAt = now
	if err := e.policies.Put(ctx, id, policy); err != nil {
		e.logger.Error("record policy firing", slog.String("policy_id", id), slog.Any("error", err))
		return models.SelfHealingPolicy{}, false
	}
	return policy.Clone(), true
}

func checkPolicy(op string, policy models.SelfHealingPolicy) error {
	if policy.ID == "" {
		return utils.NewAppError(op, "policy id is required", utils.ErrInvalidArgument)
	}
	if len(policy.Actions) == 0 {
		return utils.NewAppError(op, fmt.Sprintf("policy %q has no actions", policy.ID), utils.ErrInvalidArgument)
	}
	if policy.Cooldown < 0 {
		return utils.NewAppError(op, fmt.Sprintf("policy %q has a negative cooldown", policy.ID), utils.ErrInvalidArgument)
	}
	return nil
}
