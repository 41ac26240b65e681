package response

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-autoops/internal/cache"
	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/metrics"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/remediation"
	"github.com/miradorstack/mirador-autoops/internal/store"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Firing is the result of one reflex rule executing for a threat.
type Firing struct {
	RuleID   string
	Outcomes []models.ActionOutcome
}

// Rules is the reflex layer: declarative rules matched against every new threat.
type Rules struct {
	rules     store.Repository[models.ResponseRule]
	runner    remediation.Runner
	publisher events.Publisher
	leases    cache.Provider
	limiter   *rate.Limiter
	clock     utils.Clock
	locks     utils.KeyedMutex
	logger    *slog.Logger
}

// RulesOptions configures the reflex layer.
type RulesOptions struct {
	// Leases, when set, dedupes firings across replicas sharing the cache.
	Leases cache.Provider
	// FiringsPerSecond caps reflex firings across all rules. Zero disables the cap.
	FiringsPerSecond float64
	Burst            int
}

// NewRules creates the reflex layer over a rule repository.
func NewRules(rules store.Repository[models.ResponseRule], runner remediation.Runner, publisher events.Publisher, clock utils.Clock, opts RulesOptions, logger *slog.Logger) *Rules {
	limit := rate.Inf
	if opts.FiringsPerSecond > 0 {
		limit = rate.Limit(opts.FiringsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Rules{
		rules:     rules,
		runner:    runner,
		publisher: events.PublisherOrDiscard(publisher),
		leases:    opts.Leases,
		limiter:   rate.NewLimiter(limit, burst),
		clock:     utils.ClockOrSystem(clock),
		logger:    utils.LoggerOrDefault(logger),
	}
}

// Put adds or replaces a rule. LastFiredAt of an existing rule is preserved; a new rule
// or a changed cooldown drops the outstanding firing lease.
func (r *Rules) Put(ctx context.Context, rule models.ResponseRule) error {
	if rule.ID == "" {
		return utils.NewAppError("response.Rules.Put", "rule id is required", utils.ErrInvalidArgument)
	}
	unlock := r.locks.Lock(rule.ID)
	defer unlock()
	existing, err := r.rules.Get(ctx, rule.ID)
	if err == nil && rule.LastFiredAt.IsZero() {
		rule.LastFiredAt = existing.LastFiredAt
	}
	if err != nil || existing.Cooldown != rule.Cooldown {
		r.releaseLease(ctx, rule.ID)
	}
	return r.rules.Put(ctx, rule.ID, rule.Clone())
}

// Remove deletes a rule and its firing lease.
func (r *Rules) Remove(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()
	if err := r.rules.Delete(ctx, id); err != nil {
		return err
	}
	r.releaseLease(ctx, id)
	return nil
}

func (r *Rules) releaseLease(ctx context.Context, id string) {
	if err := cache.ReleaseLease(ctx, r.leases, "rule:"+id); err != nil {
		r.logger.Warn("release rule lease", slog.String("rule_id", id), slog.Any("error", err))
	}
}

// SetEnabled toggles a rule.
func (r *Rules) SetEnabled(ctx context.Context, id string, enabled bool) error {
	unlock := r.locks.Lock(id)
	defer unlock()
	rule, err := r.rules.Get(ctx, id)
	if err != nil {
		return err
	}
	rule.Enabled = enabled
	return r.rules.Put(ctx, id, rule)
}

// List returns every rule ordered by id.
func (r *Rules) List(ctx context.Context) ([]models.ResponseRule, error) {
	rules, err := r.rules.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// Evaluate fires every enabled rule whose trigger matches threat and that is outside
// its cooldown. Rules are independent; one rule's failures never stop the next.
func (r *Rules) Evaluate(ctx context.Context, threat models.Threat) []Firing {
	rules, err := r.List(ctx)
	if err != nil {
		r.logger.Error("list response rules", slog.Any("error", err))
		return nil
	}

	attrs := threat.Attributes()
	firings := make([]Firing, 0)
	for _, candidate := range rules {
		if !candidate.Enabled || !candidate.Trigger.Matches(attrs) {
			continue
		}
		rule, ok := r.claim(ctx, candidate.ID, attrs)
		if !ok {
			continue
		}

		outcomes := r.runner.Run(ctx, rule.Actions, attrs)
		metrics.ObserveFiring("rule", rule.ID)
		r.publisher.Publish(events.AutomatedResponseTriggered{
			RuleID:   rule.ID,
			ThreatID: threat.ID,
			Outcomes: outcomes,
			At:       r.clock.Now(),
		})
		r.logger.Info("automated response triggered",
			slog.String("rule_id", rule.ID),
			slog.String("threat_id", threat.ID),
			slog.Int("actions", len(outcomes)),
		)
		firings = append(firings, Firing{RuleID: rule.ID, Outcomes: outcomes})
	}
	return firings
}

// claim re-reads the rule under its lock, checks cooldown and records the firing.
func (r *Rules) claim(ctx context.Context, id string, attrs models.Attributes) (models.ResponseRule, bool) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rule, err := r.rules.Get(ctx, id)
	if err != nil || !rule.Enabled || !rule.Trigger.Matches(attrs) {
		return models.ResponseRule{}, false
	}
	now := r.clock.Now()
	if utils.CooldownActive(rule.LastFiredAt, rule.Cooldown, now) {
		r.logger.Debug("response rule in cooldown", slog.String("rule_id", id))
		return models.ResponseRule{}, false
	}
	if !r.limiter.Allow() {
		r.logger.Warn("reflex rate limit reached, skipping rule", slog.String("rule_id", id))
		return models.ResponseRule{}, false
	}
	if !cache.AcquireLease(ctx, r.leases, "rule:"+id, rule.Cooldown) {
		r.logger.Debug("response rule claimed by another replica", slog.String("rule_id", id))
		return models.ResponseRule{}, false
	}
	rule.LastFiredAt = now
	if err := r.rules.Put(ctx, id, rule); err != nil {
		r.logger.Error("record rule firing", slog.String("rule_id", id), slog.Any("error", err))
		return models.ResponseRule{}, false
	}
	return rule.Clone(), true
}
