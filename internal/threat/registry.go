package threat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-autoops/internal/baseline"
	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/metrics"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/response"
	"github.com/miradorstack/mirador-autoops/internal/store"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Evaluator scores a sample against its baseline.
type Evaluator interface {
	Evaluate(ctx context.Context, key string, current map[string]float64) (models.AnomalyVerdict, error)
}

// Config tunes detection and response.
type Config struct {
	// IntelEnabled ORs threat-intelligence hits into the anomaly verdict.
	IntelEnabled bool
	// AutoRespond is the lowest severity that gets a response plan executed synchronously.
	AutoRespond models.Severity
	// Retention is how long resolved threats are kept before PurgeResolved drops them.
	Retention time.Duration
}

// Deps are the collaborators of a Registry.
type Deps struct {
	Threats   store.Repository[models.Threat]
	Baseline  *baseline.Store
	Evaluator Evaluator
	Intel     *Intel
	Planner   *response.Planner
	Executor  *response.Executor
	Rules     *response.Rules
	Publisher events.Publisher
	Clock     utils.Clock
	Logger    *slog.Logger
}

// Registry owns threat records and correlates samples into threats.
type Registry struct {
	cfg       Config
	threats   store.Repository[models.Threat]
	baseline  *baseline.Store
	evaluator Evaluator
	intel     *Intel
	planner   *response.Planner
	executor  *response.Executor
	rules     *response.Rules
	publisher events.Publisher
	clock     utils.Clock
	locks     utils.KeyedMutex
	logger    *slog.Logger
}

// NewRegistry wires a registry.
func NewRegistry(cfg Config, deps Deps) *Registry {
	if cfg.AutoRespond == "" {
		cfg.AutoRespond = models.SeverityHigh
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &Registry{
		cfg:       cfg,
		threats:   deps.Threats,
		baseline:  deps.Baseline,
		evaluator: deps.Evaluator,
		intel:     deps.Intel,
		planner:   deps.Planner,
		executor:  deps.Executor,
		rules:     deps.Rules,
		publisher: events.PublisherOrDiscard(deps.Publisher),
		clock:     utils.ClockOrSystem(deps.Clock),
		logger:    utils.LoggerOrDefault(deps.Logger),
	}
}

// Detect evaluates sample. Normal samples (and samples evaluated before the baseline
// is warm) are committed to the baseline and nil is returned. Anomalous samples are
// kept out of the baseline and become a new threat.
func (r *Registry) Detect(ctx context.Context, sample models.MetricSample) (*models.Threat, error) {
	if sample.Key == "" {
		return nil, utils.NewAppError("threat.Detect", "sample key is required", utils.ErrInvalidArgument)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = r.clock.Now()
	}

	verdict, err := r.evaluator.Evaluate(ctx, sample.Key, map[string]float64{"value": sample.Value})
	warming := errors.Is(err, utils.ErrInsufficientData)
	if err != nil && !warming {
		return nil, fmt.Errorf("evaluate %s: %w", sample.Key, err)
	}

	var hit Match
	intelHit := false
	if r.cfg.IntelEnabled {
		hit, intelHit = r.intel.Match(sample)
	}

	if !intelHit && (warming || !verdict.IsAnomalous) {
		r.baseline.Record(sample)
		return nil, nil
	}

	threat := r.newThreat(sample, verdict, hit, intelHit)
	if err := r.threats.Put(ctx, threat.ID, threat); err != nil {
		return nil, fmt.Errorf("store threat: %w", err)
	}
	metrics.ObserveThreat(string(threat.Category), string(threat.Severity))
	r.logger.Warn("threat detected",
		slog.String("threat_id", threat.ID),
		slog.String("category", string(threat.Category)),
		slog.String("severity", string(threat.Severity)),
		slog.String("source", threat.Source),
		slog.Float64("score", threat.Score),
	)
	r.publisher.Publish(events.ThreatDetected{Threat: threat.Clone(), At: threat.FirstSeenAt})
	if threat.Severity == models.SeverityCritical {
		r.publisher.Publish(events.CriticalThreat{Threat: threat.Clone(), At: threat.FirstSeenAt})
	}

	if r.rules != nil {
		r.rules.Evaluate(ctx, threat)
	}

	if threat.Severity.AtLeast(r.cfg.AutoRespond) && r.executor != nil && r.planner != nil {
		if _, err := r.Respond(ctx, threat.ID, nil); err != nil {
			r.logger.Error("automatic response failed", slog.String("threat_id", threat.ID), slog.Any("error", err))
		}
	}

	current, err := r.threats.Get(ctx, threat.ID)
	if err != nil {
		return nil, err
	}
	return &current, nil
}

func (r *Registry) newThreat(sample models.MetricSample, verdict models.AnomalyVerdict, hit Match, intelHit bool) models.Threat {
	now := r.clock.Now()
	source := sample.Tags["source"]
	if source == "" {
		source = sample.Key
	}
	threat := models.Threat{
		ID:          uuid.New().String(),
		Category:    verdict.Category,
		Severity:    verdict.Severity,
		Status:      models.ThreatDetected,
		Source:      source,
		Score:       verdict.Score,
		Confidence:  verdict.Confidence,
		Tags:        sample.Tags,
		FirstSeenAt: now,
		UpdatedAt:   now,
	}
	if threat.Category == "" {
		threat.Category = models.CategoryUnknown
	}
	if threat.Severity == "" {
		threat.Severity = models.SeverityLow
	}
	if intelHit {
		threat.Indicators = append(threat.Indicators, hit.Kind+":"+hit.ID)
		if !verdict.IsAnomalous {
			threat.Category = models.CategoryIntrusion
			threat.Confidence = 1
		}
		if hit.Severity.Rank() > threat.Severity.Rank() {
			threat.Severity = hit.Severity
		}
	}
	return threat.Clone()
}

// MatchIntelligence reports whether sample hits an indicator or attack pattern.
func (r *Registry) MatchIntelligence(sample models.MetricSample) bool {
	_, ok := r.intel.Match(sample)
	return ok
}

// Respond executes the threat's response plan, creating it first from actions, or from
// the playbook when no plan exists yet. Executed steps are appended to the mitigation
// log and the threat moves to mitigating.
func (r *Registry) Respond(ctx context.Context, id string, actions []models.Action) (models.ResponsePlan, error) {
	threat, err := r.Get(ctx, id)
	if err != nil {
		return models.ResponsePlan{}, err
	}
	if len(actions) == 0 {
		_, err := r.executor.Get(ctx, id)
		switch {
		case errors.Is(err, utils.ErrUnknownEntity):
			actions = r.planner.Actions(threat)
		case err != nil:
			return models.ResponsePlan{}, err
		}
	}
	if len(actions) > 0 {
		if _, err := r.executor.Create(ctx, id, actions); err != nil {
			return models.ResponsePlan{}, err
		}
	}
	plan, err := r.executor.Execute(ctx, id, threat.Attributes())
	if err != nil {
		return plan, err
	}

	err = r.mutate(ctx, "threat.Respond", id, func(t *models.Threat, now time.Time) error {
		for _, outcome := range plan.Actions {
			note := fmt.Sprintf("%s %s", outcome.Action.Kind, outcome.Status)
			if outcome.Error != "" {
				note += ": " + outcome.Error
			}
			t.MitigationLog = append(t.MitigationLog, models.MitigationEntry{At: outcome.FinishedAt, Note: note})
		}
		if t.Status.CanTransition(models.ThreatMitigating) {
			t.Status = models.ThreatMitigating
		}
		return nil
	})
	return plan, err
}

// Get returns a copy of the threat.
func (r *Registry) Get(ctx context.Context, id string) (models.Threat, error) {
	threat, err := r.threats.Get(ctx, id)
	if err != nil {
		return models.Threat{}, err
	}
	return threat.Clone(), nil
}

// List returns threats passing filter, newest first.
func (r *Registry) List(ctx context.Context, filter models.ThreatFilter) ([]models.Threat, error) {
	all, err := r.threats.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Threat, 0, len(all))
	for _, t := range all {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeenAt.After(out[j].FirstSeenAt) })
	return out, nil
}

// UpdateStatus moves a threat to status. Setting the current status is a no-op.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status models.ThreatStatus) (models.Threat, error) {
	var updated models.Threat
	err := r.mutate(ctx, "threat.UpdateStatus", id, func(t *models.Threat, now time.Time) error {
		if t.Status == status {
			return nil
		}
		if !t.Status.CanTransition(status) {
			return utils.NewAppError("threat.UpdateStatus", fmt.Sprintf("%s -> %s", t.Status, status), utils.ErrInvalidTransition)
		}
		t.Status = status
		if status == models.ThreatResolved {
			t.ResolvedAt = now
		}
		return nil
	}, &updated)
	return updated, err
}

// AddMitigationStep appends a timestamped note to the mitigation log.
func (r *Registry) AddMitigationStep(ctx context.Context, id, note string) (models.Threat, error) {
	var updated models.Threat
	err := r.mutate(ctx, "threat.AddMitigationStep", id, func(t *models.Threat, now time.Time) error {
		t.MitigationLog = append(t.MitigationLog, models.MitigationEntry{At: now, Note: note})
		return nil
	}, &updated)
	return updated, err
}

// Resolve marks a threat resolved. Resolving twice is a no-op; resolving a false
// positive is an invalid transition.
func (r *Registry) Resolve(ctx context.Context, id, note string) (models.Threat, error) {
	var updated models.Threat
	changed := false
	err := r.mutate(ctx, "threat.Resolve", id, func(t *models.Threat, now time.Time) error {
		if t.Status == models.ThreatResolved {
			return nil
		}
		if !t.Status.CanTransition(models.ThreatResolved) {
			return utils.NewAppError("threat.Resolve", string(t.Status), utils.ErrInvalidTransition)
		}
		t.Status = models.ThreatResolved
		t.ResolvedAt = now
		if note == "" {
			note = "resolved"
		}
		t.MitigationLog = append(t.MitigationLog, models.MitigationEntry{At: now, Note: note})
		changed = true
		return nil
	}, &updated)
	if err != nil {
		return models.Threat{}, err
	}
	if changed {
		r.logger.Info("threat resolved", slog.String("threat_id", id))
		r.publisher.Publish(events.ThreatResolved{Threat: updated.Clone(), At: updated.ResolvedAt})
	}
	return updated, nil
}

// MarkFalsePositive closes a threat as a false positive. Repeating it is a no-op.
func (r *Registry) MarkFalsePositive(ctx context.Context, id, note string) (models.Threat, error) {
	var updated models.Threat
	err := r.mutate(ctx, "threat.MarkFalsePositive", id, func(t *models.Threat, now time.Time) error {
		if t.Status == models.ThreatFalsePositive {
			return nil
		}
		if !t.Status.CanTransition(models.ThreatFalsePositive) {
			return utils.NewAppError("threat.MarkFalsePositive", string(t.Status), utils.ErrInvalidTransition)
		}
		t.Status = models.ThreatFalsePositive
		if note == "" {
			note = "marked false positive"
		}
		t.MitigationLog = append(t.MitigationLog, models.MitigationEntry{At: now, Note: note})
		return nil
	}, &updated)
	return updated, err
}

// PurgeResolved deletes resolved threats (and their plans) resolved longer ago than
// the retention window. It returns the number purged.
func (r *Registry) PurgeResolved(ctx context.Context) (int, error) {
	all, err := r.threats.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := r.clock.Now().Add(-r.cfg.Retention)
	purged := 0
	for _, t := range all {
		if t.Status != models.ThreatResolved || t.ResolvedAt.After(cutoff) {
			continue
		}
		unlock := r.locks.Lock(t.ID)
		err := r.threats.Delete(ctx, t.ID)
		unlock()
		if err != nil && !errors.Is(err, utils.ErrUnknownEntity) {
			return purged, err
		}
		r.locks.Forget(t.ID)
		if r.executor != nil {
			if err := r.executor.Delete(ctx, t.ID); err != nil {
				r.logger.Warn("purge response plan", slog.String("threat_id", t.ID), slog.Any("error", err))
			}
		}
		purged++
	}
	if purged > 0 {
		r.logger.Info("purged resolved threats", slog.Int("count", purged))
	}
	return purged, nil
}

// mutate applies fn to a fresh copy of the threat under its lock and persists it.
func (r *Registry) mutate(ctx context.Context, op, id string, fn func(*models.Threat, time.Time) error, out ...*models.Threat) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	stored, err := r.threats.Get(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrUnknownEntity) {
			return utils.NotFound(op, "threat", id)
		}
		return err
	}
	threat := stored.Clone()
	now := r.clock.Now()
	if err := fn(&threat, now); err != nil {
		return err
	}
	threat.UpdatedAt = now
	if err := r.threats.Put(ctx, id, threat); err != nil {
		return err
	}
	for _, o := range out {
		*o = threat.Clone()
	}
	return nil
}
