package response

import (
	"maps"
	"time"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

// Playbooks maps a threat category to its ordered response steps.
type Playbooks map[models.Category][]models.ActionKind

// DefaultPlaybooks returns the stock category table. Containment steps come before any
// restart so the restarted service does not come back into an active attack.
func DefaultPlaybooks() Playbooks {
	return Playbooks{
		models.CategoryNetwork:   {models.ActionBlockSource, models.ActionEnableFiltering, models.ActionRateLimit},
		models.CategoryTraffic:   {models.ActionRateLimit, models.ActionEnableFiltering, models.ActionScale},
		models.CategoryResource:  {models.ActionScale, models.ActionThrottle, models.ActionRestart},
		models.CategoryError:     {models.ActionLogDetails, models.ActionRollback, models.ActionRestart},
		models.CategoryIntrusion: {models.ActionBlockSource, models.ActionIsolate, models.ActionLogDetails},
		models.CategoryUnknown:   {models.ActionEnableMonitoring, models.ActionLogDetails, models.ActionNotifyTeam},
	}
}

// severityExtras are appended to a category playbook for severe threats.
var severityExtras = map[models.Severity][]models.ActionKind{
	models.SeverityHigh:     {models.ActionNotifyTeam},
	models.SeverityCritical: {models.ActionIsolate, models.ActionRestart, models.ActionNotifyTeam},
}

// Planner turns a threat into an ordered action list.
type Planner struct {
	playbooks Playbooks
}

// NewPlanner creates a planner over playbooks, falling back to DefaultPlaybooks when nil.
func NewPlanner(playbooks Playbooks) *Planner {
	if playbooks == nil {
		playbooks = DefaultPlaybooks()
	}
	if _, ok := playbooks[models.CategoryUnknown]; !ok {
		playbooks = maps.Clone(playbooks)
		playbooks[models.CategoryUnknown] = DefaultPlaybooks()[models.CategoryUnknown]
	}
	return &Planner{playbooks: playbooks}
}

// Plan builds an unsaved plan for threat with every step pending.
func (p *Planner) Plan(threat models.Threat, now time.Time) models.ResponsePlan {
	return models.ResponsePlan{
		ThreatID:  threat.ID,
		Actions:   models.PendingOutcomes(p.Actions(threat)),
		Status:    models.PlanCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Actions selects the ordered steps for threat. Every step targets the threat source.
func (p *Planner) Actions(threat models.Threat) []models.Action {
	kinds, ok := p.playbooks[threat.Category]
	if !ok {
		kinds = p.playbooks[models.CategoryUnknown]
	}

	seen := make(map[models.ActionKind]bool, len(kinds))
	ordered := make([]models.ActionKind, 0, len(kinds)+3)
	for _, kind := range append(append([]models.ActionKind(nil), kinds...), severityExtras[threat.Severity]...) {
		if seen[kind] {
			continue
		}
		seen[kind] = true
		ordered = append(ordered, kind)
	}

	actions := make([]models.Action, len(ordered))
	for i, kind := range ordered {
		actions[i] = models.Action{
			Kind:   kind,
			Target: threat.Source,
			Params: map[string]string{
				"threat_id": threat.ID,
				"category":  string(threat.Category),
				"severity":  string(threat.Severity),
			},
		}
	}
	return actions
}
