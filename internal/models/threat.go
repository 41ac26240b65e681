package models

import (
	"maps"
	"slices"
	"time"
)

// ThreatStatus is the lifecycle state of a threat.
type ThreatStatus string

const (
	ThreatDetected      ThreatStatus = "detected"
	ThreatInvestigating ThreatStatus = "investigating"
	ThreatMitigating    ThreatStatus = "mitigating"
	ThreatResolved      ThreatStatus = "resolved"
	ThreatFalsePositive ThreatStatus = "false_positive"
)

var threatTransitions = map[ThreatStatus][]ThreatStatus{
	ThreatDetected:      {ThreatInvestigating, ThreatMitigating, ThreatResolved, ThreatFalsePositive},
	ThreatInvestigating: {ThreatMitigating, ThreatResolved, ThreatFalsePositive},
	ThreatMitigating:    {ThreatInvestigating, ThreatResolved, ThreatFalsePositive},
}

// CanTransition reports whether a threat in s may move to next.
func (s ThreatStatus) CanTransition(next ThreatStatus) bool {
	return slices.Contains(threatTransitions[s], next)
}

// Terminal reports whether no further transitions are allowed.
func (s ThreatStatus) Terminal() bool {
	return s == ThreatResolved || s == ThreatFalsePositive
}

// MitigationEntry is one timestamped line of a threat's mitigation log.
type MitigationEntry struct {
	At   time.Time `json:"at"`
	Note string    `json:"note"`
}

// Threat is a detected security or operational incident.
type Threat struct {
	ID            string            `json:"id"`
	Category      Category          `json:"category"`
	Severity      Severity          `json:"severity"`
	Status        ThreatStatus      `json:"status"`
	Source        string            `json:"source"`
	Score         float64           `json:"score"`
	Confidence    float64           `json:"confidence"`
	Indicators    []string          `json:"indicators,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	FirstSeenAt   time.Time         `json:"firstSeenAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	ResolvedAt    time.Time         `json:"resolvedAt,omitzero"`
	MitigationLog []MitigationEntry `json:"mitigationLog,omitempty"`
}

// Clone returns a deep copy.
func (t Threat) Clone() Threat {
	t.Indicators = slices.Clone(t.Indicators)
	t.MitigationLog = slices.Clone(t.MitigationLog)
	t.Tags = maps.Clone(t.Tags)
	return t
}

// Attributes exposes the fields response rules match on.
func (t Threat) Attributes() Attributes {
	attrs := Attributes{
		"threat_id": t.ID,
		"category":  string(t.Category),
		"severity":  string(t.Severity),
		"status":    string(t.Status),
		"source":    t.Source,
	}
	for k, v := range t.Tags {
		attrs["tag."+k] = v
	}
	return attrs
}

// ThreatFilter narrows ListThreats. Zero fields match everything.
type ThreatFilter struct {
	Status      ThreatStatus
	Category    Category
	MinSeverity Severity
}

// Matches reports whether t passes the filter.
func (f ThreatFilter) Matches(t Threat) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.MinSeverity != "" && !t.Severity.AtLeast(f.MinSeverity) {
		return false
	}
	return true
}

// PlanStatus aggregates the outcomes of a response plan.
type PlanStatus string

const (
	PlanCreated   PlanStatus = "created"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// ResponsePlan is the ordered action list for one threat. At most one per threat.
type ResponsePlan struct {
	ThreatID  string          `json:"threatId"`
	Actions   []ActionOutcome `json:"actions"`
	Status    PlanStatus      `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy.
func (p ResponsePlan) Clone() ResponsePlan {
	p.Actions = slices.Clone(p.Actions)
	for i := range p.Actions {
		p.Actions[i].Action = cloneAction(p.Actions[i].Action)
	}
	return p
}

// Aggregate derives the plan status from its action outcomes: failed if any failed,
// completed if all completed, created if none has started, executing otherwise.
func (p ResponsePlan) Aggregate() PlanStatus {
	if len(p.Actions) == 0 {
		return PlanCreated
	}
	completed, pending := 0, 0
	for _, outcome := range p.Actions {
		switch outcome.Status {
		case ActionFailed:
			return PlanFailed
		case ActionCompleted:
			completed++
		case ActionPending:
			pending++
		}
	}
	switch {
	case completed == len(p.Actions):
		return PlanCompleted
	case pending == len(p.Actions):
		return PlanCreated
	default:
		return PlanExecuting
	}
}
